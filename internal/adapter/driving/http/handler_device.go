package httphandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

// ValidateDeviceRequest is the JSON body for the device validation endpoint.
type ValidateDeviceRequest struct {
	Identity string              `json:"identity"`
	Device   model.DeviceContext `json:"device"`
}

// BlockDeviceRequest is the optional JSON body for the block endpoint.
type BlockDeviceRequest struct {
	Reason string `json:"reason"`
}

// ValidateDevice records a device sighting and returns the advisory verdict.
func (h *Handler) ValidateDevice(w http.ResponseWriter, r *http.Request) {
	var req ValidateDeviceRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Device.UserAgent == "" {
		req.Device.UserAgent = r.UserAgent()
	}

	v, err := h.devices.Validate(r.Context(), req.Identity, req.Device, clientIP(r))
	if err != nil {
		h.writeServiceError(w, r, "validate device", err)
		return
	}

	writeJSON(w, http.StatusOK, toDeviceValidationResponse(v))
}

// ListDevices lists the devices seen for one owner.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.ListForOwner(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		h.writeServiceError(w, r, "list devices", err)
		return
	}

	resp := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, toDeviceResponse(d))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetDevice returns one device.
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.devices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "get device", err)
		return
	}

	writeJSON(w, http.StatusOK, toDeviceResponse(*dev))
}

// TrustDevice marks a device trusted.
func (h *Handler) TrustDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.devices.Trust(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "trust device", err)
		return
	}

	writeJSON(w, http.StatusOK, toDeviceResponse(*dev))
}

// BlockDevice blocks a device.
func (h *Handler) BlockDevice(w http.ResponseWriter, r *http.Request) {
	var req BlockDeviceRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	dev, err := h.devices.Block(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "block device", err)
		return
	}

	writeJSON(w, http.StatusOK, toDeviceResponse(*dev))
}

// UnblockDevice lifts a block.
func (h *Handler) UnblockDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.devices.Unblock(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "unblock device", err)
		return
	}

	writeJSON(w, http.StatusOK, toDeviceResponse(*dev))
}
