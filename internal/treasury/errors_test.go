package treasury

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        *ProviderError
		target     error
		wantIs     bool
		wantSubstr string
	}{
		{
			name:       "404 maps to no route",
			err:        NewProviderError("lifi", 404, "no route found"),
			target:     ErrNoRoute,
			wantIs:     true,
			wantSubstr: "status 404",
		},
		{
			name:   "500 does not map to no route",
			err:    NewProviderError("across", 500, "internal"),
			target: ErrNoRoute,
			wantIs: false,
		},
		{
			name:       "transport error keeps cause",
			err:        WrapProviderError("across", fmt.Errorf("connection refused")),
			target:     ErrNoRoute,
			wantIs:     false,
			wantSubstr: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantIs, errors.Is(tt.err, tt.target))
			if tt.wantSubstr != "" {
				assert.Contains(t, tt.err.Error(), tt.wantSubstr)
			}
		})
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := WrapProviderError("lifi", cause)
	assert.Equal(t, cause, errors.Unwrap(err))

	var providerErr *ProviderError
	assert.True(t, errors.As(fmt.Errorf("quote failed: %w", err), &providerErr))
	assert.Equal(t, "lifi", providerErr.Provider)
}
