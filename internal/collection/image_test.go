package collection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startCheckPayment(t *testing.T, h *harness, opts ...func(*Options)) *Workflow {
	t.Helper()
	opts = append([]func(*Options){preselect(sampleInvoices()[0])}, opts...)
	w := h.workflow(opts...)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.UpdateDraft(context.Background(), DraftPatch{
		Amount:      ptr("400"),
		Method:      ptr(MethodCheck),
		CheckNumber: ptr("000123"),
	}))
	return w
}

func TestCameraDeniedKeepsOtherMethodsUsable(t *testing.T) {
	patches := map[PaymentMethod]DraftPatch{
		MethodCash:         {Method: ptr(MethodCash)},
		MethodBankTransfer: {Method: ptr(MethodBankTransfer), BankReference: ptr("TRX-1")},
		MethodOnline:       {Method: ptr(MethodOnline)},
	}
	for method, patch := range patches {
		t.Run(string(method), func(t *testing.T) {
			h := newHarness()
			h.camera.openErr = errors.New("NotAllowedError: permission denied")
			w := startCheckPayment(t, h)

			err := w.OpenCamera(context.Background(), "")
			var devErr *DeviceError
			require.ErrorAs(t, err, &devErr)
			st := entering(t, w)
			assert.Error(t, st.CameraError)
			assert.False(t, st.CameraOpen())

			require.NoError(t, w.UpdateDraft(context.Background(), patch))
			require.NoError(t, w.Submit(context.Background()))
			assert.Equal(t, method, h.payments.last(t).Method)
		})
	}
}

func TestCameraDeniedStillAllowsCheckWithoutImage(t *testing.T) {
	h := newHarness()
	h.camera.openErr = errors.New("permission denied")
	w := startCheckPayment(t, h)

	require.Error(t, w.OpenCamera(context.Background(), DefaultFacing))
	require.NoError(t, w.Submit(context.Background()))
	assert.Nil(t, h.payments.last(t).CheckImageURL)
}

func TestOpenCameraRequiresCheckMethod(t *testing.T) {
	h := newHarness()
	w := h.workflow(preselect(sampleInvoices()[0]))
	require.NoError(t, w.Start(context.Background()))

	assert.ErrorIs(t, w.OpenCamera(context.Background(), ""), ErrCheckOnly)
	assert.ErrorIs(t, w.CaptureImage(context.Background()), ErrCheckOnly)
}

func TestCaptureRequiresOpenCamera(t *testing.T) {
	h := newHarness()
	w := startCheckPayment(t, h)
	assert.ErrorIs(t, w.CaptureImage(context.Background()), ErrCameraNotOpen)
}

func TestCaptureAutoUploadsAndSubmitCarriesURL(t *testing.T) {
	h := newHarness()
	w := startCheckPayment(t, h, autoUpload)

	require.NoError(t, w.OpenCamera(context.Background(), ""))
	require.NoError(t, w.CaptureImage(context.Background()))

	st := entering(t, w)
	require.NotNil(t, st.Image)
	assert.Equal(t, []byte("check-front"), st.Image.Blob)
	assert.False(t, st.CameraOpen(), "camera is released once a still is held")
	assert.Zero(t, h.camera.openCount())

	require.Eventually(t, func() bool {
		st := entering(t, w)
		return !st.Uploading && st.Draft.CheckImageURL != ""
	}, time.Second, 5*time.Millisecond)
	st = entering(t, w)
	assert.Equal(t, 100, st.UploadProgress)
	assert.Equal(t, h.uploader.url, st.Draft.CheckImageURL)

	require.NoError(t, w.Submit(context.Background()))
	req := h.payments.last(t)
	require.NotNil(t, req.CheckImageURL)
	assert.Equal(t, h.uploader.url, *req.CheckImageURL)
	assert.Zero(t, h.previews.liveCount(), "preview revoked after confirmation")
}

func TestUploadProgressIsMonotonic(t *testing.T) {
	h := newHarness()
	h.uploader.block = make(chan struct{})
	w := startCheckPayment(t, h, autoUpload)

	require.NoError(t, w.OpenCamera(context.Background(), ""))
	require.NoError(t, w.CaptureImage(context.Background()))

	require.Eventually(t, func() bool {
		return entering(t, w).UploadProgress == 60
	}, time.Second, 5*time.Millisecond)
	assert.True(t, entering(t, w).Uploading)
	assert.ErrorIs(t, w.UploadImage(context.Background()), ErrUploadInProgress)

	close(h.uploader.block)
	require.Eventually(t, func() bool {
		return entering(t, w).UploadProgress == 100
	}, time.Second, 5*time.Millisecond)
}

func TestUploadFailureKeepsPreviewAndAllowsSubmit(t *testing.T) {
	h := newHarness()
	h.uploader.err = errors.New("502 bad gateway")
	w := startCheckPayment(t, h)

	require.NoError(t, w.OpenCamera(context.Background(), ""))
	require.NoError(t, w.CaptureImage(context.Background()))

	err := w.UploadImage(context.Background())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)

	st := entering(t, w)
	require.NotNil(t, st.Image)
	assert.Empty(t, st.Draft.CheckImageURL)
	assert.Error(t, st.UploadError)
	assert.False(t, st.Uploading)
	assert.Equal(t, 1, h.previews.liveCount())

	require.NoError(t, w.Submit(context.Background()))
	assert.Nil(t, h.payments.last(t).CheckImageURL)
}

func TestRemoveImageClearsURLAndDoesNotBlockSubmit(t *testing.T) {
	h := newHarness()
	w := startCheckPayment(t, h)

	assert.ErrorIs(t, w.RemoveImage(context.Background()), ErrNoImage)

	require.NoError(t, w.OpenCamera(context.Background(), ""))
	require.NoError(t, w.CaptureImage(context.Background()))
	require.NoError(t, w.UploadImage(context.Background()))
	require.NotEmpty(t, entering(t, w).Draft.CheckImageURL)

	require.NoError(t, w.RemoveImage(context.Background()))
	st := entering(t, w)
	assert.Nil(t, st.Image)
	assert.Empty(t, st.Draft.CheckImageURL)
	assert.Zero(t, h.previews.liveCount())

	require.NoError(t, w.Submit(context.Background()))
	assert.Nil(t, h.payments.last(t).CheckImageURL)
}

func TestRetakeDiscardsStaleUpload(t *testing.T) {
	h := newHarness()
	h.uploader.block = make(chan struct{})
	w := startCheckPayment(t, h, autoUpload)

	require.NoError(t, w.OpenCamera(context.Background(), ""))
	require.NoError(t, w.CaptureImage(context.Background()))

	require.NoError(t, w.Retake(context.Background(), ""))
	st := entering(t, w)
	assert.Nil(t, st.Image)
	assert.True(t, st.CameraOpen())
	assert.Zero(t, h.previews.liveCount(), "previous preview released first")

	close(h.uploader.block)
	require.Eventually(t, func() bool { return h.uploader.finishedCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool {
		return entering(t, w).Draft.CheckImageURL != ""
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSwitchingAwayFromCheckReleasesImageAndCamera(t *testing.T) {
	h := newHarness()
	w := startCheckPayment(t, h)

	require.NoError(t, w.OpenCamera(context.Background(), ""))
	require.NoError(t, w.CaptureImage(context.Background()))
	require.NoError(t, w.OpenCamera(context.Background(), ""))
	require.Equal(t, 1, h.camera.openCount())

	require.NoError(t, w.UpdateDraft(context.Background(), DraftPatch{Method: ptr(MethodCash)}))

	st := entering(t, w)
	assert.Nil(t, st.Image)
	assert.False(t, st.CameraOpen())
	assert.Zero(t, h.camera.openCount())
	assert.Zero(t, h.previews.liveCount())
}

func TestCaptureFailureIsScopedToImageFlow(t *testing.T) {
	h := newHarness()
	w := startCheckPayment(t, h)
	require.NoError(t, w.OpenCamera(context.Background(), ""))
	h.camera.mu.Lock()
	h.camera.captureErr = errors.New("track ended")
	h.camera.mu.Unlock()

	err := w.CaptureImage(context.Background())
	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)

	st := entering(t, w)
	assert.Error(t, st.CameraError)
	assert.False(t, st.CameraOpen())
	assert.Zero(t, h.camera.openCount())
	assert.Equal(t, "400", st.Draft.Amount)
	assert.Equal(t, "000123", st.Draft.CheckNumber)
}

func TestCloseReleasesCameraAndPreview(t *testing.T) {
	h := newHarness()
	w := startCheckPayment(t, h)
	require.NoError(t, w.OpenCamera(context.Background(), ""))
	require.NoError(t, w.CaptureImage(context.Background()))
	require.NoError(t, w.OpenCamera(context.Background(), ""))

	require.NoError(t, w.Close(context.Background()))

	assert.Zero(t, h.camera.openCount())
	assert.Zero(t, h.previews.liveCount())
}
