package tokenmeta

import (
	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// mintRequestToDTO converts a domain mint request into the wire body.
func mintRequestToDTO(req credential.MintRequest) MintRequestDTO {
	creators := make([]CreatorDTO, 0, len(req.Creators))
	for _, c := range req.Creators {
		creators = append(creators, CreatorDTO{
			Address:  c.Address.String(),
			Verified: c.Verified,
			Share:    c.Share,
		})
	}

	return MintRequestDTO{
		IdempotencyKey:       req.IdempotencyKey,
		Owner:                req.Owner.String(),
		Name:                 req.Metadata.Title,
		Symbol:               req.Metadata.Symbol,
		URI:                  req.Metadata.URI,
		SellerFeeBasisPoints: req.SellerFeeBasisPoints,
		Creators:             creators,
		IsMutable:            req.IsMutable,
		MaxSupply:            req.MaxSupply,
	}
}

// issuedFromDTO builds the issued credential from the service response.
// IssuedAt is left zero; the ledger stamps it with the trusted clock.
func issuedFromDTO(req credential.MintRequest, resp MintResponseDTO) *credential.IssuedCredential {
	return &credential.IssuedCredential{
		IdempotencyKey: req.IdempotencyKey,
		Authority:      req.Owner,
		Module:         req.Module,
		Metadata:       req.Metadata,
		Mint:           resp.Mint,
		MetadataAddr:   resp.Metadata,
		MasterEdition:  resp.MasterEdition,
		TokenAccount:   resp.TokenAccount,
		Signature:      resp.Signature,
	}
}
