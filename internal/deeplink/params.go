package deeplink

import (
	"fmt"
	"net/url"
)

// Params is the deep-link parameter contract. It exists only to bootstrap a
// session and is never persisted; once the session is established the
// session store is the source of truth.
type Params struct {
	AccessToken  string `json:"accessToken"`
	MerchantID   string `json:"currentMerchantPayformanceId"`
	RefreshToken string `json:"refreshToken,omitempty"`
	V2           string `json:"v2,omitempty"`
}

// Complete reports whether both required fields are present.
func (p Params) Complete() bool {
	return p.AccessToken != "" && p.MerchantID != ""
}

// ParseURL extracts deep-link parameters from a raw launch URL.
func ParseURL(rawURL string) (Params, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Params{}, fmt.Errorf("deeplink: parse launch url: %w", err)
	}
	q := u.Query()
	return Params{
		AccessToken:  q.Get("accessToken"),
		MerchantID:   q.Get("currentMerchantPayformanceId"),
		RefreshToken: q.Get("refreshToken"),
		V2:           q.Get("v2"),
	}, nil
}

// URLValues renders the parameter set back into query values, used when
// minting links.
func (p Params) URLValues() url.Values {
	q := url.Values{}
	q.Set("accessToken", p.AccessToken)
	q.Set("currentMerchantPayformanceId", p.MerchantID)
	if p.RefreshToken != "" {
		q.Set("refreshToken", p.RefreshToken)
	}
	if p.V2 != "" {
		q.Set("v2", p.V2)
	}
	return q
}
