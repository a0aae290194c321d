package submission

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteError(t *testing.T) {
	cases := map[error]int{
		ErrNameTooShort:     http.StatusBadRequest,
		ErrNoPlayerName:     http.StatusBadRequest,
		ErrNameTaken:        http.StatusConflict,
		ErrNameMismatch:     http.StatusConflict,
		ErrAlreadySubmitted: http.StatusConflict,
		ErrSubmitInFlight:   http.StatusConflict,
		ErrNotFinished:      http.StatusPreconditionFailed,
		ErrSubmitFailed:     http.StatusServiceUnavailable,
	}
	for err, want := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, fmt.Errorf("wrapped: %w", err), "s1")
		assert.Equal(t, want, rec.Code, err.Error())
	}
}
