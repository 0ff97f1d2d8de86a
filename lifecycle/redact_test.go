package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "email address",
			in:   "directory rejected ada.lovelace@example.com: conflict",
			want: "directory rejected [redacted-email]: conflict",
		},
		{
			name: "token pair",
			in:   "request failed: token=abc123def",
			want: "request failed: token=[redacted]",
		},
		{
			name: "authorization header",
			in:   "401 with Authorization: Bearer xyz",
			want: "401 with Authorization=[redacted] xyz",
		},
		{
			name: "api key with colon",
			in:   "api_key: s3cr3t rejected",
			want: "api_key=[redacted] rejected",
		},
		{
			name: "plain text untouched",
			in:   "connection refused",
			want: "connection refused",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Redact(tc.in))
		})
	}
}
