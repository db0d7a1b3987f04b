package server

import (
	"net/http"

	"github.com/rsclarke/echohook/internal/logging"
	"github.com/rsclarke/echohook/internal/store"
	"github.com/rsclarke/echohook/internal/types"
	"github.com/rsclarke/echohook/internal/validate"
)

// handleCapture records any request sent to /webhook/{binId}. It is public:
// senders need only know the bin's URL.
func (s *APIServer) handleCapture(w http.ResponseWriter, r *http.Request) {
	binID := r.PathValue("binId")
	if !validate.BinID(binID) {
		s.logger().Debug("capture to malformed bin id", logging.BinID(binID))
		s.fail(w, r, store.ErrInvalidID, "")
		return
	}

	res, err := s.Capture.Capture(r.Context(), binID, r)
	if err != nil {
		s.fail(w, r, err, "Failed to capture webhook")
		return
	}

	writeJSON(w, http.StatusOK, types.CaptureResponse{
		Success:   true,
		BinID:     res.BinID,
		RequestID: res.RequestID,
		Message:   res.Message,
	})
}
