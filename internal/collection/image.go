package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultFacing asks for the rear camera, which is the one pointed at a check.
const DefaultFacing = "environment"

var (
	// ErrUploadInProgress is returned when an upload for the current image is running.
	ErrUploadInProgress = errors.New("collection: check image upload in progress")
	// ErrUploadUnavailable is returned when no uploader is configured.
	ErrUploadUnavailable = errors.New("collection: check image upload unavailable")
)

// OpenCamera acquires the camera for the check image sub-flow. A failure is
// recorded as a DeviceError on the state and never affects the rest of the draft.
func (w *Workflow) OpenCamera(ctx context.Context, facing string) error {
	if facing == "" {
		facing = DefaultFacing
	}
	w.mu.Lock()
	st, err := w.editable()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if st.Draft.Method != MethodCheck {
		w.mu.Unlock()
		return ErrCheckOnly
	}
	if st.CameraOpen() {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	handle, openErr := w.deps.Camera.Open(ctx, facing)

	w.mu.Lock()
	st, err = w.entering()
	if err != nil || st.Draft.Method != MethodCheck || st.CameraOpen() {
		w.mu.Unlock()
		if openErr == nil {
			w.free(ctx, release{cameraHandle: handle})
		}
		if err == nil && st.Draft.Method != MethodCheck {
			err = ErrCheckOnly
		}
		return err
	}
	if openErr != nil {
		devErr := &DeviceError{Err: openErr}
		st.CameraError = devErr
		w.state = st
		w.mu.Unlock()
		w.opts.Logger.Warn("open camera", slog.Any("error", openErr))
		return devErr
	}
	st.CameraHandle = handle
	st.CameraError = nil
	w.state = st
	w.mu.Unlock()
	return nil
}

// CloseCamera releases the camera without touching a captured image.
func (w *Workflow) CloseCamera(ctx context.Context) error {
	w.mu.Lock()
	st, err := w.entering()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	rel := release{cameraHandle: st.CameraHandle}
	st.CameraHandle = ""
	w.state = st
	w.mu.Unlock()
	w.free(ctx, rel)
	return nil
}

// CameraFailed records a device failure reported by the client, such as a denied
// permission, and releases the camera. The draft is left untouched.
func (w *Workflow) CameraFailed(ctx context.Context, cause error) error {
	w.mu.Lock()
	st, err := w.entering()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	rel := release{cameraHandle: st.CameraHandle}
	st.CameraHandle = ""
	st.CameraError = &DeviceError{Err: cause}
	w.state = st
	w.mu.Unlock()
	w.opts.Logger.Warn("camera failed", slog.Any("error", cause))
	w.free(ctx, rel)
	return nil
}

// CaptureImage takes a still from the open camera, replaces any previous image
// and, with AutoUpload, starts uploading it in the background. The camera is
// released once a still is held.
func (w *Workflow) CaptureImage(ctx context.Context) error {
	w.mu.Lock()
	st, err := w.editable()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if st.Draft.Method != MethodCheck {
		w.mu.Unlock()
		return ErrCheckOnly
	}
	handle := st.CameraHandle
	if handle == "" {
		w.mu.Unlock()
		return ErrCameraNotOpen
	}
	w.mu.Unlock()

	blob, capErr := w.deps.Camera.Capture(ctx, handle)
	if capErr != nil {
		w.mu.Lock()
		st, err := w.entering()
		if err != nil {
			w.mu.Unlock()
			return err
		}
		devErr := &DeviceError{Err: capErr}
		var rel release
		if st.CameraHandle == handle {
			rel.cameraHandle = handle
			st.CameraHandle = ""
		}
		st.CameraError = devErr
		w.state = st
		w.mu.Unlock()
		w.opts.Logger.Warn("capture check image", slog.Any("error", capErr))
		w.free(ctx, rel)
		return devErr
	}

	url, putErr := w.deps.Previews.Put(ctx, blob)
	if putErr != nil {
		return fmt.Errorf("collection: store preview: %w", putErr)
	}

	w.mu.Lock()
	st, err = w.entering()
	if err == nil && st.Draft.Method != MethodCheck {
		err = ErrCheckOnly
	}
	if err != nil {
		w.mu.Unlock()
		w.free(ctx, release{previewURL: url})
		return err
	}
	rel := w.dropImage(&st, false)
	if st.CameraHandle == handle {
		rel.cameraHandle = handle
		st.CameraHandle = ""
	}
	st.Image = &CapturedImage{Blob: blob, URL: url}
	st.CameraError = nil
	gen := w.imageGen
	auto := w.opts.AutoUpload && w.deps.Uploader != nil
	if auto {
		st.Uploading = true
	}
	w.state = st
	w.mu.Unlock()

	w.free(ctx, rel)
	if auto {
		go func() {
			_ = w.upload(context.WithoutCancel(ctx), gen, blob)
		}()
	}
	return nil
}

// Retake discards the current image and reopens the camera for another shot.
func (w *Workflow) Retake(ctx context.Context, facing string) error {
	w.mu.Lock()
	st, err := w.editable()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	rel := w.dropImage(&st, false)
	w.state = st
	w.mu.Unlock()
	w.free(ctx, rel)
	return w.OpenCamera(ctx, facing)
}

// RemoveImage discards the captured image and closes the camera. The payment can
// still be submitted without an image.
func (w *Workflow) RemoveImage(ctx context.Context) error {
	w.mu.Lock()
	st, err := w.editable()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if st.Image == nil {
		w.mu.Unlock()
		return ErrNoImage
	}
	rel := w.dropImage(&st, true)
	w.state = st
	w.mu.Unlock()
	w.free(ctx, rel)
	return nil
}

// UploadImage uploads the current image synchronously; used to retry after a
// failed automatic upload or when AutoUpload is off.
func (w *Workflow) UploadImage(ctx context.Context) error {
	if w.deps.Uploader == nil {
		return ErrUploadUnavailable
	}
	w.mu.Lock()
	st, err := w.editable()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if st.Image == nil {
		w.mu.Unlock()
		return ErrNoImage
	}
	if st.Uploading {
		w.mu.Unlock()
		return ErrUploadInProgress
	}
	st.Uploading = true
	st.UploadProgress = 0
	st.UploadError = nil
	w.state = st
	gen := w.imageGen
	blob := st.Image.Blob
	w.mu.Unlock()
	return w.upload(ctx, gen, blob)
}

// upload sends blob and applies the result only if gen still names the current image.
func (w *Workflow) upload(ctx context.Context, gen uint64, blob []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.opts.UploadTimeout)
	defer cancel()

	url, err := w.deps.Uploader.UploadCheckImage(ctx, blob, "", func(pct int) {
		w.progress(gen, pct)
	})
	w.opts.Metrics.upload(err)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	st, ok := w.state.(EnteringPayment)
	if !ok || gen != w.imageGen {
		return nil
	}
	st.Uploading = false
	if err != nil {
		netErr := asNetworkError(OpUpload, err)
		w.opts.Logger.Warn("upload check image", slog.Any("error", err))
		st.UploadError = netErr
		w.state = st
		return netErr
	}
	st.Draft.CheckImageURL = url
	st.UploadProgress = 100
	st.UploadError = nil
	w.state = st
	return nil
}

func (w *Workflow) progress(gen uint64, pct int) {
	pct = min(max(pct, 0), 100)
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.state.(EnteringPayment)
	if w.closed || !ok || gen != w.imageGen || !st.Uploading || pct <= st.UploadProgress {
		return
	}
	st.UploadProgress = pct
	w.state = st
}

// dropImage detaches the captured image (and optionally the camera) from st and
// invalidates in-flight uploads. Callers hold mu and must free the result.
func (w *Workflow) dropImage(st *EnteringPayment, closeCamera bool) release {
	var rel release
	if st.Image != nil {
		rel.previewURL = st.Image.URL
		st.Image = nil
	}
	st.Draft.CheckImageURL = ""
	st.Uploading = false
	st.UploadProgress = 0
	st.UploadError = nil
	w.imageGen++
	if closeCamera && st.CameraHandle != "" {
		rel.cameraHandle = st.CameraHandle
		st.CameraHandle = ""
	}
	return rel
}
