package collection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/collect/internal/platform/httpx"
	"github.com/odyssey-erp/collect/internal/shared"
)

const (
	defaultReceiptLimit = 20
	maxReceiptLimit     = 100
)

// FrameRelay accepts frames and failures pushed by the client device for an open
// camera handle.
type FrameRelay interface {
	PushFrame(handle string, frame []byte) error
	Fail(handle, reason string) error
}

// ReceiptLister returns a collector's most recent confirmed collections.
type ReceiptLister interface {
	ListRecent(ctx context.Context, collectorID string, limit int) ([]Receipt, error)
}

// Handler exposes the collection workflow as a JSON API.
type Handler struct {
	logger        *slog.Logger
	manager       *Manager
	frames        FrameRelay
	receipts      ReceiptLister
	money         *Formatter
	location      *time.Location
	maxFrameBytes int64
}

// NewHandler builds Handler instance. receipts may be nil when no journal is configured.
func NewHandler(
	logger *slog.Logger,
	manager *Manager,
	frames FrameRelay,
	receipts ReceiptLister,
	money *Formatter,
	location *time.Location,
	maxFrameBytes int64,
) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if location == nil {
		location = time.UTC
	}
	return &Handler{
		logger:        logger,
		manager:       manager,
		frames:        frames,
		receipts:      receipts,
		money:         money,
		location:      location,
		maxFrameBytes: maxFrameBytes,
	}
}

// MountRoutes registers collection routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.start)
	r.Get("/receipts", h.listReceipts)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)

		// Invoice selection
		r.Post("/search", h.search)
		r.Post("/reload", h.reload)
		r.Post("/select", h.selectInvoice)

		// Payment entry
		r.Patch("/draft", h.updateDraft)
		r.Post("/suggestions/{label}", h.applySuggestion)
		r.Post("/submit", h.submit)

		// Check image
		r.Post("/camera", h.openCamera)
		r.Delete("/camera", h.closeCamera)
		r.Post("/camera/frame", h.pushFrame)
		r.Post("/camera/error", h.cameraError)
		r.Post("/capture", h.capture)
		r.Post("/image/retake", h.retake)
		r.Delete("/image", h.removeImage)
		r.Post("/image/upload", h.uploadImage)

		// Confirmation
		r.Post("/another", h.recordAnother)
		r.Post("/close", h.close)
	})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req startRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	var preselected *Invoice
	if req.PreselectedInvoice != nil {
		inv, err := req.PreselectedInvoice.toInvoice(h.location)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		preselected = &inv
	}
	wf, err := h.manager.Start(r.Context(), owner, preselected)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.view(wf))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, wf *Workflow) error { return nil })
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.Search(req.Query)
	})
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.Reload(ctx)
	})
}

func (h *Handler) selectInvoice(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.Select(req.InvoiceID)
	})
}

func (h *Handler) updateDraft(w http.ResponseWriter, r *http.Request) {
	var req draftPatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch, err := req.toPatch(h.location)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.UpdateDraft(ctx, patch)
	})
}

func (h *Handler) applySuggestion(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "label")
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.ApplySuggestion(label)
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.Submit(ctx)
	})
}

func (h *Handler) openCamera(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.OpenCamera(ctx, req.Facing)
	})
}

func (h *Handler) closeCamera(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.CloseCamera(ctx)
	})
}

func (h *Handler) pushFrame(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}
	handle, err := cameraHandle(wf)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	body := r.Body
	if h.maxFrameBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxFrameBytes)
	}
	frame, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "frame exceeds the size limit")
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "could not read frame")
		return
	}
	if len(frame) == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "empty frame")
		return
	}
	if err := h.frames.PushFrame(handle, frame); err != nil {
		h.respondError(w, r, &DeviceError{Err: err})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cameraError(w http.ResponseWriter, r *http.Request) {
	var req cameraErrorRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "camera unavailable"
	}
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		if handle, err := cameraHandle(wf); err == nil {
			if err := h.frames.Fail(handle, req.Reason); err != nil {
				h.logger.Warn("relay camera failure", slog.Any("error", err))
			}
		}
		return wf.CameraFailed(ctx, errors.New(req.Reason))
	})
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.CaptureImage(ctx)
	})
}

func (h *Handler) retake(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.Retake(ctx, req.Facing)
	})
}

func (h *Handler) removeImage(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.RemoveImage(ctx)
	})
}

func (h *Handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.UploadImage(ctx)
	})
}

func (h *Handler) recordAnother(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, wf *Workflow) error {
		return wf.RecordAnother(ctx)
	})
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}
	if err := wf.Close(r.Context()); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	if h.receipts == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "receipt journal not configured")
		return
	}
	limit := defaultReceiptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxReceiptLimit)
	}
	receipts, err := h.receipts.ListRecent(r.Context(), owner.UserID, limit)
	if err != nil {
		h.logger.Error("list receipts", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]receiptDTO, 0, len(receipts))
	for _, rc := range receipts {
		out = append(out, receiptView(rc))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// act resolves the workflow, runs fn and responds with the resulting view.
func (h *Handler) act(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, wf *Workflow) error) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), wf); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(wf))
}

func (h *Handler) workflow(w http.ResponseWriter, r *http.Request) (*Workflow, bool) {
	owner, ok := h.owner(w, r)
	if !ok {
		return nil, false
	}
	wf, err := h.manager.Get(chi.URLParam(r, "id"), owner)
	if err != nil {
		h.respondError(w, r, err)
		return nil, false
	}
	return wf, true
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (Owner, bool) {
	p := shared.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return Owner{}, false
	}
	return Owner{UserID: p.UserID, DistributorID: p.DistributorID}, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	return true
}

func cameraHandle(wf *Workflow) (string, error) {
	st, ok := wf.State().(EnteringPayment)
	if !ok {
		return "", ErrInvalidTransition
	}
	if !st.CameraOpen() {
		return "", ErrCameraNotOpen
	}
	return st.CameraHandle, nil
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *ValidationError
		conflict   *SubmissionConflict
		network    *NetworkError
		device     *DeviceError
	)
	switch {
	case errors.As(err, &validation):
		httpx.ValidationProblem(w, UserMessage(err), validation.Violations)
	case errors.As(err, &conflict):
		httpx.Problem(w, http.StatusConflict, "Payment Rejected", UserMessage(err))
	case errors.As(err, &network):
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", UserMessage(err))
	case errors.As(err, &device):
		httpx.Problem(w, http.StatusFailedDependency, "Camera Unavailable", UserMessage(err))
	case errors.Is(err, ErrWorkflowNotFound), errors.Is(err, ErrInvoiceNotFound), errors.Is(err, ErrUnknownSuggestion):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrClosed):
		httpx.Problem(w, http.StatusGone, "Gone", UserMessage(err))
	case errors.Is(err, ErrBusy), errors.Is(err, ErrUploadInProgress), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNoImage), errors.Is(err, ErrCameraNotOpen), errors.Is(err, ErrCheckOnly):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrUploadUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", err.Error())
	default:
		h.logger.Error("collection request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
