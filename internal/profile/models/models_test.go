package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kore/pkg/domain-errors"
)

func TestCanonicalPhone(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"already canonical", "2348031234567", "2348031234567", false},
		{"plus prefix", "+2348031234567", "2348031234567", false},
		{"local zero prefix", "08031234567", "2348031234567", false},
		{"spaced local", "0803 123 4567", "2348031234567", false},
		{"hyphenated", "0803-123-4567", "2348031234567", false},
		{"too short", "23480312", "", true},
		{"foreign country code", "15551234567", "", true},
		{"letters", "0803abc4567", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalPhone(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func validVerifyRequest() *VerifyBankAccountRequest {
	return &VerifyBankAccountRequest{
		Firstname:     "Ada",
		Surname:       "Obi",
		Phone:         "2348031234567",
		BankName:      "Unity Bank",
		BankCode:      "215",
		AccountNumber: "0123456789",
		BVN:           "12345678901",
	}
}

func TestVerifyRequestNormalize(t *testing.T) {
	req := &VerifyBankAccountRequest{
		Firstname:     "  Ada ",
		Surname:       " Obi",
		Phone:         "0803 123 4567",
		BankName:      " Unity Bank ",
		BankCode:      " 215 ",
		AccountNumber: "012 345 6789",
		BVN:           "123-456-78901",
	}
	req.Normalize()

	assert.Equal(t, "Ada", req.Firstname)
	assert.Equal(t, "Obi", req.Surname)
	assert.Equal(t, "2348031234567", req.Phone)
	assert.Equal(t, "Unity Bank", req.BankName)
	assert.Equal(t, "215", req.BankCode)
	assert.Equal(t, "0123456789", req.AccountNumber)
	assert.Equal(t, "12345678901", req.BVN)
}

func TestVerifyRequestValidate(t *testing.T) {
	require.NoError(t, validVerifyRequest().Validate())

	tests := []struct {
		name   string
		mutate func(*VerifyBankAccountRequest)
	}{
		{"empty first name", func(r *VerifyBankAccountRequest) { r.Firstname = "" }},
		{"empty surname", func(r *VerifyBankAccountRequest) { r.Surname = "" }},
		{"non-canonical phone", func(r *VerifyBankAccountRequest) { r.Phone = "08031234567" }},
		{"empty bank name", func(r *VerifyBankAccountRequest) { r.BankName = "" }},
		{"empty bank code", func(r *VerifyBankAccountRequest) { r.BankCode = "" }},
		{"nine digit account", func(r *VerifyBankAccountRequest) { r.AccountNumber = "012345678" }},
		{"eleven digit account", func(r *VerifyBankAccountRequest) { r.AccountNumber = "01234567890" }},
		{"account with letters", func(r *VerifyBankAccountRequest) { r.AccountNumber = "01234abcde" }},
		{"ten digit bvn", func(r *VerifyBankAccountRequest) { r.BVN = "1234567890" }},
		{"twelve digit bvn", func(r *VerifyBankAccountRequest) { r.BVN = "123456789012" }},
		{"empty bvn", func(r *VerifyBankAccountRequest) { r.BVN = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validVerifyRequest()
			tt.mutate(req)
			err := req.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestProfileSnapshot(t *testing.T) {
	p := &Profile{
		Firstname:   "Ada",
		Surname:     "Obi",
		Phone:       "2348031234567",
		BankName:    "Unity Bank",
		BankCode:    "215",
		IsCompleted: true,
	}
	snap := p.Snapshot()
	assert.True(t, snap.Completed)
	assert.Equal(t, "Ada", snap.Firstname)
	assert.Equal(t, "Obi", snap.Surname)
	assert.Equal(t, "2348031234567", snap.Phone)
	assert.Equal(t, "215", snap.BankCode)
}
