package progress

import (
	"encoding/binary"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// БИНАРНЫЙ ФОРМАТ ЗАПИСИ
//
//	offset  size  field
//	0       1     версия схемы (1)
//	1       32    authority
//	33      2     challenges_completed, LE
//	35      1     modules_completed
//	36      8     created_at, unix seconds, LE
//	44      8     updated_at, unix seconds, LE
// ══════════════════════════════════════════════════════════════════════════════

const (
	// SchemaVersion - текущая версия бинарного формата.
	SchemaVersion uint8 = 1
	// RecordSize - размер закодированной записи в байтах.
	RecordSize = 1 + AuthoritySize + 2 + 1 + 8 + 8
)

const (
	offAuthority  = 1
	offChallenges = offAuthority + AuthoritySize
	offModules    = offChallenges + 2
	offCreatedAt  = offModules + 1
	offUpdatedAt  = offCreatedAt + 8
)

// EncodeRecord кодирует запись в формат версии 1.
func EncodeRecord(r Record) []byte {
	buf := make([]byte, RecordSize)
	buf[0] = SchemaVersion
	copy(buf[offAuthority:offChallenges], r.Authority[:])
	binary.LittleEndian.PutUint16(buf[offChallenges:], r.ChallengesCompleted)
	buf[offModules] = r.ModulesCompleted
	binary.LittleEndian.PutUint64(buf[offCreatedAt:], uint64(r.CreatedAt.Unix()))
	binary.LittleEndian.PutUint64(buf[offUpdatedAt:], uint64(r.UpdatedAt.Unix()))
	return buf
}

// DecodeRecord разбирает запись и проверяет её инварианты.
// Возвращает ErrCorruptRecord для неверной длины, версии или нарушенных инвариантов.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if len(data) != RecordSize || data[0] != SchemaVersion {
		return r, ErrCorruptRecord
	}

	copy(r.Authority[:], data[offAuthority:offChallenges])
	r.ChallengesCompleted = binary.LittleEndian.Uint16(data[offChallenges:])
	r.ModulesCompleted = data[offModules]
	r.CreatedAt = time.Unix(int64(binary.LittleEndian.Uint64(data[offCreatedAt:])), 0).UTC()
	r.UpdatedAt = time.Unix(int64(binary.LittleEndian.Uint64(data[offUpdatedAt:])), 0).UTC()

	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}
