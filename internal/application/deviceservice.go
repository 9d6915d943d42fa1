package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"github.com/rs/zerolog"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// Trust score policy.
const (
	scoreNewDevice   = 30
	scoreTrusted     = 90
	scoreUnblocked   = 30
	scoreFailure     = 10
	scoreSuccess     = 2
	thresholdLow     = 40
	thresholdAuth    = 50
	failedAttemptCap = 3

	fingerprintLength = 32
)

// DeviceService recognises client devices and keeps their trust score.
type DeviceService struct {
	devices driven.DeviceStore
	tx      driven.Transactor
	audit   *AuditService
	clock   clock.Clock
	logger  zerolog.Logger
}

// NewDeviceService creates a new DeviceService.
func NewDeviceService(
	devices driven.DeviceStore,
	tx driven.Transactor,
	audit *AuditService,
	clk clock.Clock,
	logger zerolog.Logger,
) *DeviceService {
	return &DeviceService{
		devices: devices,
		tx:      tx,
		audit:   audit,
		clock:   clk,
		logger:  logger.With().Str("component", "devices").Logger(),
	}
}

// withUserAgent fills browser, OS and device type from the user agent when
// the client did not report them.
func withUserAgent(dc model.DeviceContext) model.DeviceContext {
	if dc.UserAgent == "" || (dc.Browser != "" && dc.OS != "" && dc.DeviceType != "") {
		return dc
	}

	ua := useragent.New(dc.UserAgent)
	if dc.Browser == "" {
		dc.Browser, _ = ua.Browser()
	}
	if dc.OS == "" {
		dc.OS = ua.OSInfo().Name
	}
	if dc.DeviceType == "" {
		switch {
		case ua.Bot():
			dc.DeviceType = "bot"
		case ua.Mobile():
			dc.DeviceType = "mobile"
		default:
			dc.DeviceType = "desktop"
		}
	}
	return dc
}

// Fingerprint derives the stable device identifier from the client context.
// Equal contexts always produce equal fingerprints.
func Fingerprint(dc model.DeviceContext) string {
	dc = withUserAgent(dc)
	joined := strings.Join([]string{
		dc.Fingerprint,
		dc.UserAgent,
		dc.Browser,
		dc.OS,
		dc.DeviceType,
		dc.ScreenResolution,
		dc.Timezone,
		dc.Language,
	}, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// GetOrRegister records a sighting of the device for identity. The boolean
// is true when this call created the device.
func (s *DeviceService) GetOrRegister(ctx context.Context, identity string, dc model.DeviceContext, ip string) (*model.Device, bool, error) {
	if identity == "" {
		return nil, false, model.InvalidInput(model.ReasonInvalidInput, "device owner is required")
	}

	dc = withUserAgent(dc)
	dev, err := s.devices.Observe(ctx, model.Device{
		ID:            uuid.NewString(),
		Fingerprint:   Fingerprint(dc),
		OwnerIdentity: identity,
		UserAgent:     dc.UserAgent,
		Browser:       dc.Browser,
		OS:            dc.OS,
		DeviceType:    dc.DeviceType,
		IPAddress:     ip,
	}, scoreNewDevice, s.clock.Now())
	if err != nil {
		return nil, false, storeFailure("observe device", err)
	}

	isNew := dev.AccessCount == 1
	if isNew {
		s.logger.Info().Str("device_id", dev.ID).Str("owner", identity).Msg("new device registered")
	}
	return dev, isNew, nil
}

// Validate observes the device and returns an advisory verdict. Only a
// blocked device is disallowed.
func (s *DeviceService) Validate(ctx context.Context, identity string, dc model.DeviceContext, ip string) (*model.DeviceValidation, error) {
	dev, isNew, err := s.GetOrRegister(ctx, identity, dc, ip)
	if err != nil {
		return nil, err
	}
	return evaluate(dev, isNew), nil
}

func evaluate(dev *model.Device, isNew bool) *model.DeviceValidation {
	v := &model.DeviceValidation{
		Allowed:    !dev.IsBlocked,
		DeviceID:   dev.ID,
		TrustScore: dev.TrustScore,
		IsNew:      isNew,
		IsTrusted:  dev.IsTrusted,
		IsBlocked:  dev.IsBlocked,
		Warnings:   []string{},
	}

	if dev.IsBlocked {
		v.Warnings = append(v.Warnings, "Device is blocked")
		return v
	}

	if isNew {
		v.Warnings = append(v.Warnings, "New device detected")
	}
	if dev.TrustScore < thresholdLow {
		v.Warnings = append(v.Warnings, "Low trust score")
	}
	if dev.FailedAttempts > failedAttemptCap {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Multiple failed attempts (%d)", dev.FailedAttempts))
	}

	v.RequiresAdditionalAuth = (isNew || dev.TrustScore < thresholdAuth || dev.FailedAttempts > 0) && !dev.IsTrusted
	return v
}

// RecordSuccess raises the device's score after a successful claim.
func (s *DeviceService) RecordSuccess(ctx context.Context, id string) (*model.Device, error) {
	dev, err := s.devices.RecordSuccess(ctx, id, scoreSuccess, s.clock.Now())
	if err != nil {
		return nil, storeFailure("record device success", err)
	}
	return dev, nil
}

// RecordFailure lowers the device's score after a rejected claim.
func (s *DeviceService) RecordFailure(ctx context.Context, id string) (*model.Device, error) {
	dev, err := s.devices.RecordFailure(ctx, id, scoreFailure, s.clock.Now())
	if err != nil {
		return nil, storeFailure("record device failure", err)
	}
	return dev, nil
}

// Trust marks the device trusted and clears any block.
func (s *DeviceService) Trust(ctx context.Context, id, actor string) (*model.Device, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.change(ctx, id, actor, model.ActionDeviceTrusted, "", func(ctx context.Context, st driven.DeviceStore) (*model.Device, error) {
		return st.SetTrusted(ctx, id, actor, scoreTrusted, s.clock.Now())
	})
}

// Block marks the device blocked; every later claim from it is rejected.
func (s *DeviceService) Block(ctx context.Context, id, actor, reason string) (*model.Device, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.change(ctx, id, actor, model.ActionDeviceBlocked, reason, func(ctx context.Context, st driven.DeviceStore) (*model.Device, error) {
		return st.SetBlocked(ctx, id, actor, reason, s.clock.Now())
	})
}

// Unblock lifts a block. The device returns to the new-device score and
// stays untrusted.
func (s *DeviceService) Unblock(ctx context.Context, id, actor string) (*model.Device, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.change(ctx, id, actor, model.ActionDeviceUnblocked, "", func(ctx context.Context, st driven.DeviceStore) (*model.Device, error) {
		return st.ClearBlock(ctx, id, scoreUnblocked)
	})
}

// change applies an admin state change and its audit event atomically.
func (s *DeviceService) change(
	ctx context.Context,
	id, actor string,
	action model.AuditAction,
	reason string,
	apply func(ctx context.Context, st driven.DeviceStore) (*model.Device, error),
) (*model.Device, error) {
	var (
		dev   *model.Device
		event model.AuditEvent
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context, st driven.Stores) error {
		var err error
		dev, err = apply(ctx, st.Devices)
		if err != nil {
			return err
		}

		extra := map[string]any{
			"device_id":   dev.ID,
			"owner":       dev.OwnerIdentity,
			"trust_score": dev.TrustScore,
		}
		if reason != "" {
			extra["reason"] = reason
		}
		event, err = s.audit.record(ctx, st.Audit, model.AuditEvent{
			Actor:          actor,
			Action:         action,
			TargetResource: "device:" + dev.ID,
			ExtraData:      extra,
		})
		return err
	})
	if err != nil {
		return nil, storeFailure(fmt.Sprintf("%s device %s", strings.ToLower(string(action)), id), err)
	}

	s.audit.published(event)
	return dev, nil
}

// Get returns one device.
func (s *DeviceService) Get(ctx context.Context, id string) (*model.Device, error) {
	dev, err := s.devices.GetByID(ctx, id)
	if err != nil {
		return nil, storeFailure("get device", err)
	}
	if dev == nil {
		return nil, model.NotFound("device", id)
	}
	return dev, nil
}

// ListForOwner returns every device seen for identity, most recent first.
func (s *DeviceService) ListForOwner(ctx context.Context, identity string) ([]model.Device, error) {
	if identity == "" {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "device owner is required")
	}
	devices, err := s.devices.ListByOwner(ctx, identity)
	if err != nil {
		return nil, storeFailure("list devices", err)
	}
	return devices, nil
}
