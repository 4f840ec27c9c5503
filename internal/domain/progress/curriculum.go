package progress

import "fmt"

// ══════════════════════════════════════════════════════════════════════════════
// УЧЕБНАЯ ПРОГРАММА
// Форма программы фиксирована: 4 модуля по 4 челленджа.
// Модуль m владеет челленджами [4m, 4m+3].
// ══════════════════════════════════════════════════════════════════════════════

const (
	// ChallengeCount - общее число челленджей (ширина битсета челленджей).
	ChallengeCount = 16
	// ModuleCount - число модулей.
	ModuleCount = 4
	// ChallengesPerModule - число челленджей в одном модуле.
	ChallengesPerModule = ChallengeCount / ModuleCount

	// AllModulesMask - маска всех значимых битов модулей.
	AllModulesMask uint8 = 1<<ModuleCount - 1
)

// ChallengeID идентифицирует челлендж, 0-15.
type ChallengeID uint8

// IsValid проверяет, что челлендж входит в программу.
func (c ChallengeID) IsValid() bool {
	return c < ChallengeCount
}

// Bit возвращает бит челленджа в битсете.
func (c ChallengeID) Bit() uint16 {
	return 1 << c
}

// Validate возвращает ErrInvalidChallengeID для id вне программы.
func (c ChallengeID) Validate() error {
	if !c.IsValid() {
		return ErrInvalidChallengeID
	}
	return nil
}

// ModuleID идентифицирует модуль, 0-3.
type ModuleID uint8

// IsValid проверяет, что модуль входит в программу.
func (m ModuleID) IsValid() bool {
	return m < ModuleCount
}

// Bit возвращает бит модуля в битсете модулей.
func (m ModuleID) Bit() uint8 {
	return 1 << m
}

// Validate возвращает ErrInvalidModuleID для id вне программы.
func (m ModuleID) Validate() error {
	if !m.IsValid() {
		return ErrInvalidModuleID
	}
	return nil
}

// String возвращает человекочитаемое имя модуля.
func (m ModuleID) String() string {
	return fmt.Sprintf("module-%d", uint8(m))
}

// ChallengesOf возвращает челленджи модуля по возрастанию.
func ChallengesOf(m ModuleID) ([]ChallengeID, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	first := ChallengeID(uint8(m) * ChallengesPerModule)
	ids := make([]ChallengeID, 0, ChallengesPerModule)
	for i := ChallengeID(0); i < ChallengesPerModule; i++ {
		ids = append(ids, first+i)
	}
	return ids, nil
}

// MaskOf собирает маску из битов переданных челленджей.
// Вызывающий код обязан заранее проверить id; id вне программы не влияют на маску.
func MaskOf(ids ...ChallengeID) uint16 {
	var mask uint16
	for _, id := range ids {
		mask |= id.Bit()
	}
	return mask
}

// ModuleMask возвращает маску всех челленджей модуля.
func ModuleMask(m ModuleID) (uint16, error) {
	ids, err := ChallengesOf(m)
	if err != nil {
		return 0, err
	}
	return MaskOf(ids...), nil
}

// ModuleOf возвращает модуль, которому принадлежит челлендж.
func ModuleOf(c ChallengeID) (ModuleID, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	return ModuleID(uint8(c) / ChallengesPerModule), nil
}

// moduleMask - ModuleMask для заведомо валидного модуля.
func moduleMask(m ModuleID) uint16 {
	return 0x000F << (uint(m) * ChallengesPerModule)
}
