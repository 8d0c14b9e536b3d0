package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentifier(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "lowercase", input: "users"},
		{name: "with digits and underscore", input: "user_2"},
		{name: "all underscores", input: "___"},
		{name: "empty", input: "", wantErr: true},
		{name: "uppercase", input: "Users", wantErr: true},
		{name: "leading whitespace", input: " users", wantErr: true},
		{name: "dash", input: "user-table", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := NewIdentifier(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				var checkErr *CheckError
				require.ErrorAs(t, err, &checkErr)
				assert.Equal(t, KindInvalidDBIdentifier, checkErr.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.input, id.String())
		})
	}
}
