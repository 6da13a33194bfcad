package certificate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatDate(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"calendar date", "2024-03-05", "03/05/2024"},
		{"training date scenario", "2024-01-15", "01/15/2024"},
		{"iso datetime", "2024-03-05T14:30:00", "03/05/2024"},
		{"iso datetime minute precision", "2024-03-05T14:30", "03/05/2024"},
		{"iso datetime with fraction", "2024-03-05T14:30:00.123456", "03/05/2024"},
		{"rfc3339", "2024-03-05T14:30:00Z", "03/05/2024"},
		{"space separated datetime", "2024-03-05 14:30:00", "03/05/2024"},
		{"not a date passes through", "not-a-date", "not-a-date"},
		{"already formatted passes through", "03/05/2024", "03/05/2024"},
		{"empty passes through", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatDate(tc.input))
		})
	}
}

func TestRequestValidate(t *testing.T) {
	valid := Request{
		TemplateKey:  "templates/cert.docx",
		SignatureKey: "signatures/instructor.png",
		Fields: map[string]string{
			FieldCertificateNumber: "CERT-001",
			FieldFirstName:         "Jane",
			FieldLastName:          "Doe",
		},
	}
	assert.NoError(t, valid.Validate())

	missingCert := valid
	missingCert.Fields = map[string]string{FieldFirstName: "Jane"}
	err := missingCert.Validate()
	assert.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.True(t, IsClientError(err))

	blankCert := valid
	blankCert.Fields = map[string]string{FieldCertificateNumber: "   "}
	assert.Error(t, blankCert.Validate())

	missingTemplate := valid
	missingTemplate.TemplateKey = ""
	assert.Error(t, missingTemplate.Validate())

	missingSignature := valid
	missingSignature.SignatureKey = " "
	assert.Error(t, missingSignature.Validate())
}

func TestRequestField(t *testing.T) {
	req := Request{Fields: map[string]string{FieldFirstName: "Jane"}}
	assert.Equal(t, "Jane", req.Field(FieldFirstName))
	assert.Equal(t, "", req.Field(FieldMiddleName))

	var empty Request
	assert.Equal(t, "", empty.Field(FieldFirstName))
}

func TestErrorTagging(t *testing.T) {
	cause := fmt.Errorf("object missing")
	err := NewError(KindAssetNotFound, StageFetch, cause)

	assert.Equal(t, KindAssetNotFound, KindOf(err))
	assert.False(t, IsClientError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), StageFetch)

	wrapped := fmt.Errorf("pipeline failed: %w", err)
	assert.Equal(t, KindAssetNotFound, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}
