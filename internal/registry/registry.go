// Package registry is the durable record of households, members and devices
// that credentials resolve to.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/store"
)

var (
	ErrNotFound        = errors.New("registry: not found")
	ErrHouseholdExists = errors.New("registry: household already exists")
	ErrInvalid         = errors.New("registry: invalid input")
)

type Registry struct {
	households *store.HouseholdStore
	members    *store.MemberStore
	devices    *store.DeviceStore
	logger     *slog.Logger
	now        func() time.Time
}

func New(db *sql.DB, logger *slog.Logger) *Registry {
	return &Registry{
		households: store.NewHouseholdStore(db),
		members:    store.NewMemberStore(db),
		devices:    store.NewDeviceStore(db),
		logger:     logger.With("component", "registry"),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// CreateHousehold creates the device's single household together with its
// owner. A second call fails with ErrHouseholdExists.
func (r *Registry) CreateHousehold(ctx context.Context, name string, owner model.NewMember) (*model.Household, *model.Member, error) {
	name = strings.TrimSpace(name)
	owner.DisplayName = strings.TrimSpace(owner.DisplayName)
	if name == "" || owner.DisplayName == "" {
		return nil, nil, fmt.Errorf("%w: household and owner names are required", ErrInvalid)
	}

	existing, err := r.households.First(ctx)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, ErrHouseholdExists
	}

	h, m, err := r.households.CreateWithOwner(ctx, name, owner, r.now())
	if err != nil {
		return nil, nil, err
	}
	r.logger.Info("household created", "household_id", h.ID, "owner_id", m.ID)
	return h, m, nil
}

func (r *Registry) GetHousehold(ctx context.Context, id int64) (*model.Household, error) {
	h, err := r.households.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNotFound
	}
	return h, nil
}

// CurrentHousehold returns the device's household, or nil before setup has
// created one.
func (r *Registry) CurrentHousehold(ctx context.Context) (*model.Household, error) {
	return r.households.First(ctx)
}

func (r *Registry) RenameHousehold(ctx context.Context, id int64, name string) (*model.Household, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	h, err := r.households.Rename(ctx, id, name, r.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return h, err
}

func (r *Registry) CreateMember(ctx context.Context, householdID int64, role string, nm model.NewMember) (*model.Member, error) {
	nm.DisplayName = strings.TrimSpace(nm.DisplayName)
	if nm.DisplayName == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalid)
	}
	if role != model.RoleOwner && role != model.RoleMember {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}
	if _, err := r.GetHousehold(ctx, householdID); err != nil {
		return nil, err
	}
	return r.members.Create(ctx, householdID, role, nm, r.now())
}

func (r *Registry) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	m, err := r.members.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}
	return m, nil
}

func (r *Registry) ListMembers(ctx context.Context, householdID int64) ([]model.Member, error) {
	members, err := r.members.ListByHousehold(ctx, householdID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []model.Member{}
	}
	return members, nil
}

func (r *Registry) MemberCount(ctx context.Context, householdID int64) (int, error) {
	return r.members.CountByHousehold(ctx, householdID)
}

// RegisterDevice records a client-generated device id. Registering a known
// id returns the existing record unchanged.
func (r *Registry) RegisterDevice(ctx context.Context, id, deviceType, displayName string) (*model.Device, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalid)
	}
	if deviceType == "" {
		deviceType = "web"
	}
	return r.devices.Register(ctx, id, deviceType, displayName, r.now())
}

func (r *Registry) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	d, err := r.devices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	return d, nil
}

// UnpairDevice clears the device's owner and revokes its sessions.
func (r *Registry) UnpairDevice(ctx context.Context, deviceID string) error {
	err := r.devices.Unbind(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	r.logger.Info("device unpaired", "device_id", deviceID)
	return nil
}

func (r *Registry) ListDevices(ctx context.Context, memberID int64) ([]model.Device, error) {
	return r.devices.ListByMember(ctx, memberID)
}
