package isbn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"isbn13 with dashes", "978-80-257-0741-8", "9788025707418"},
		{"isbn13 plain", "9780306406157", "9780306406157"},
		{"isbn10 with x", "0-8044-2957-x", "080442957X"},
		{"isbn10 plain", "0306406152", "0306406152"},
		{"bad checksum", "9780306406158", ""},
		{"wrong length", "12345", ""},
		{"letters", "97803064O6157", ""},
		{"empty", "", ""},
		{"labeled", "ISBN 978-80-257-0741-8", "9788025707418"},
		{"labeled with colon", "ISBN: 0-306-40615-2", "0306406152"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	require.True(t, Valid("978 0 306 40615 7"))
	require.False(t, Valid("not an isbn"))
}
