package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aditya/towbid/internal/cache"
	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/geo"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/repository"
)

type DriverService interface {
	CreateDriver(ctx context.Context, req *models.CreateDriverRequest) (*models.Driver, error)
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	UpdateLocation(ctx context.Context, driverID string, req *models.UpdateDriverLocationRequest) error
	SetStatus(ctx context.Context, driverID, status string) (*models.Driver, error)
}

type driverService struct {
	tx          repository.Transactor
	driverRepo  repository.DriverRepository
	userRepo    repository.UserRepository
	creditRepo  repository.CreditRepository
	driverCache cache.DriverLocationCache
}

func NewDriverService(
	tx repository.Transactor,
	driverRepo repository.DriverRepository,
	userRepo repository.UserRepository,
	creditRepo repository.CreditRepository,
	driverCache cache.DriverLocationCache,
) DriverService {
	return &driverService{
		tx:          tx,
		driverRepo:  driverRepo,
		userRepo:    userRepo,
		creditRepo:  creditRepo,
		driverCache: driverCache,
	}
}

// CreateDriver attaches a driver profile and an empty credit account to a driver user.
func (s *driverService) CreateDriver(ctx context.Context, req *models.CreateDriverRequest) (*models.Driver, error) {
	user, err := s.userRepo.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, apperrors.Internal("failed to load user", err)
	}
	if user == nil {
		return nil, apperrors.NotFound("user")
	}
	if user.Role != models.RoleDriver {
		return nil, apperrors.Validation("user is not a driver")
	}
	for _, sp := range req.Specialties {
		if !models.IsValidServiceType(sp) {
			return nil, apperrors.Validation("unknown specialty " + sp)
		}
	}

	driver := &models.Driver{
		ID:            user.ID,
		VehicleNumber: req.VehicleNumber,
		Specialties:   req.Specialties,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.driverRepo.Create(ctx, driver); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperrors.Validation("driver profile already exists")
			}
			return apperrors.Internal("failed to create driver", err)
		}
		if err := s.creditRepo.EnsureAccount(ctx, driver.ID); err != nil {
			return apperrors.Internal("failed to open credit account", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return driver, nil
}

func (s *driverService) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	driver, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	// Prefer the fresher cached position
	if s.driverCache != nil {
		loc, err := s.driverCache.GetDriverLocation(ctx, id)
		if err == nil && loc != nil {
			driver.CurrentLat = &loc.Lat
			driver.CurrentLng = &loc.Lng
		}
	}
	return driver, nil
}

func (s *driverService) UpdateLocation(ctx context.Context, driverID string, req *models.UpdateDriverLocationRequest) error {
	if !(geo.Point{Lat: req.Lat, Lng: req.Lng}).Valid() {
		return apperrors.Validation("coordinates out of range")
	}
	driver, err := s.load(ctx, driverID)
	if err != nil {
		return err
	}

	if err := s.driverRepo.UpdateLocation(ctx, driverID, req.Lat, req.Lng); err != nil {
		return apperrors.Internal("failed to update driver location", err)
	}

	if s.driverCache != nil && driver.Status == models.DriverStatusOnline {
		if err := s.driverCache.UpdateLocation(ctx, driverID, driver.Specialties, req.Lat, req.Lng); err != nil {
			slog.WarnContext(ctx, "failed to update driver location in cache", "driver_id", driverID, "error", err)
		}
	}
	return nil
}

func (s *driverService) SetStatus(ctx context.Context, driverID, status string) (*models.Driver, error) {
	if status != models.DriverStatusOnline && status != models.DriverStatusOffline {
		return nil, apperrors.Validation("status must be online or offline")
	}
	driver, err := s.load(ctx, driverID)
	if err != nil {
		return nil, err
	}

	if err := s.driverRepo.UpdateStatus(ctx, driverID, status); err != nil {
		return nil, apperrors.Internal("failed to update driver status", err)
	}
	driver.Status = status

	if s.driverCache != nil {
		if err := s.driverCache.SetDriverMeta(ctx, driverID, status, driver.Rating); err != nil {
			slog.WarnContext(ctx, "failed to set driver meta in cache", "driver_id", driverID, "error", err)
		}
		if status == models.DriverStatusOffline {
			err = s.driverCache.RemoveDriver(ctx, driverID, driver.Specialties)
		} else if loc, ok := driver.Location(); ok {
			err = s.driverCache.UpdateLocation(ctx, driverID, driver.Specialties, loc.Lat, loc.Lng)
		}
		if err != nil {
			slog.WarnContext(ctx, "failed to refresh driver position in cache", "driver_id", driverID, "error", err)
		}
	}
	return driver, nil
}

func (s *driverService) load(ctx context.Context, id string) (*models.Driver, error) {
	driver, err := s.driverRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Internal("failed to load driver", err)
	}
	if driver == nil {
		return nil, apperrors.NotFound("driver")
	}
	return driver, nil
}

// OnlineDriverCandidates feeds a full-scan locator from Postgres.
func OnlineDriverCandidates(driverRepo repository.DriverRepository) geo.SourceFunc {
	return func(ctx context.Context) ([]geo.Candidate, error) {
		drivers, err := driverRepo.ListOnlineWithLocation(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]geo.Candidate, 0, len(drivers))
		for _, d := range drivers {
			if c, ok := d.Candidate(); ok {
				out = append(out, c)
			}
		}
		return out, nil
	}
}
