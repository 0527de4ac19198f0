package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alumni-forms/common"
)

func TestIsEmail(t *testing.T) {
	for _, s := range []string{"a@b.co", "tanaka@example.com", " x@y.com ", "first.last+tag@sub.example.jp"} {
		assert.True(t, IsEmail(s), "expected %q to be accepted", s)
	}
	for _, s := range []string{"", "a@b", "noatsign.com", "not-an-email", "a@@b.com", "a b@c.com", "a@b .com", "田中　@example.com"} {
		assert.False(t, IsEmail(s), "expected %q to be rejected", s)
	}
}

func TestValidateContact(t *testing.T) {
	tests := []struct {
		name       string
		in         common.FormSubmission
		wantFields []string
		wantCode   string
	}{
		{
			name: "valid",
			in:   common.FormSubmission{Kind: common.KindContact, Name: "田中", Email: "tanaka@example.com", Message: "hello"},
		},
		{
			name:       "missing name",
			in:         common.FormSubmission{Kind: common.KindContact, Name: "", Email: "x@y.com", Message: "hi"},
			wantFields: []string{"name"},
			wantCode:   CodeRequired,
		},
		{
			name:       "whitespace only counts as missing",
			in:         common.FormSubmission{Kind: common.KindContact, Name: "田中", Email: "x@y.com", Message: " \n\t"},
			wantFields: []string{"message"},
			wantCode:   CodeRequired,
		},
		{
			name:       "all missing",
			in:         common.FormSubmission{Kind: common.KindContact},
			wantFields: []string{"name", "email", "message"},
			wantCode:   CodeRequired,
		},
		{
			name:       "bad email",
			in:         common.FormSubmission{Kind: common.KindContact, Name: "田中", Email: "not-an-email", Message: "hi"},
			wantFields: []string{"email"},
			wantCode:   CodeEmail,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.in)
			if tt.wantFields == nil {
				assert.NoError(t, err)
				return
			}
			var fe FieldErrors
			require.True(t, errors.As(err, &fe), "expected FieldErrors, got %v", err)
			assert.Equal(t, tt.wantFields, fe.Fields(tt.wantCode))
		})
	}
}

func TestValidateParticipation(t *testing.T) {
	ok := common.FormSubmission{Kind: common.KindParticipation, Name: "佐藤", Period: "45期", Email: "s@example.jp"}
	assert.NoError(t, Validate(ok), "empty attendance falls back to the default")

	missing := ok
	missing.Period = ""
	var fe FieldErrors
	require.ErrorAs(t, Validate(missing), &fe)
	assert.Equal(t, []string{"period"}, fe.Fields(CodeRequired))

	badAttendance := ok
	badAttendance.Attendance = "未定"
	require.ErrorAs(t, Validate(badAttendance), &fe)
	assert.True(t, fe.Has(CodeOneOf))

	// Message is not required on the participation form.
	assert.NoError(t, Validate(common.FormSubmission{Kind: common.KindParticipation, Name: "a", Period: "1期", Email: "a@b.co", Attendance: common.AttendanceAbsent}))
}

func TestValidateDoesNotModifyInput(t *testing.T) {
	in := common.FormSubmission{Kind: common.KindContact, Name: " 田中 ", Email: " t@e.com ", Message: "m"}
	_ = Validate(in)
	assert.Equal(t, " 田中 ", in.Name)
}
