// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/openledger/invitegate/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements the store.Store interface using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init initializes the SQLite database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, "invitegate.db")

	db, err := gorm.Open(sqlite.Open(dbPath+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn inside the accept transaction.
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)

	d.db = db

	if err := db.AutoMigrate(
		&store.Organization{},
		&store.Invitation{},
		&store.Account{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Organization operations

func (d *Driver) CreateOrganization(ctx context.Context, org *store.Organization) error {
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	return d.db.WithContext(ctx).Create(org).Error
}

func (d *Driver) GetOrganization(ctx context.Context, id string) (*store.Organization, error) {
	var org store.Organization
	result := d.db.WithContext(ctx).First(&org, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &org, nil
}

func (d *Driver) UpdateOrganization(ctx context.Context, org *store.Organization) error {
	return d.db.WithContext(ctx).Save(org).Error
}

// Invitation operations

func (d *Driver) CreateInvitation(ctx context.Context, inv *store.Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.Email = store.NormalizeEmail(inv.Email)
	return d.db.WithContext(ctx).Create(inv).Error
}

func (d *Driver) GetInvitationByToken(ctx context.Context, token string) (*store.Invitation, error) {
	var inv store.Invitation
	result := d.db.WithContext(ctx).First(&inv, "token = ?", token)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &inv, nil
}

func (d *Driver) GetInvitationByID(ctx context.Context, id string) (*store.Invitation, error) {
	var inv store.Invitation
	result := d.db.WithContext(ctx).First(&inv, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &inv, nil
}

func (d *Driver) GetPendingInvitationByOrgEmail(ctx context.Context, organizationID, email string) (*store.Invitation, error) {
	var inv store.Invitation
	result := d.db.WithContext(ctx).
		Where("organization_id = ? AND email = ? AND status = ?",
			organizationID, store.NormalizeEmail(email), store.InvitationPending).
		First(&inv)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &inv, nil
}

func (d *Driver) ListInvitations(ctx context.Context, organizationID string) ([]*store.Invitation, error) {
	var invs []*store.Invitation
	q := d.db.WithContext(ctx).Order("invited_at DESC")
	if organizationID != "" {
		q = q.Where("organization_id = ?", organizationID)
	}
	if err := q.Find(&invs).Error; err != nil {
		return nil, err
	}
	return invs, nil
}

func (d *Driver) UpdateInvitation(ctx context.Context, inv *store.Invitation) error {
	return d.db.WithContext(ctx).Save(inv).Error
}

// ExpireInvitation flips pending → expired. The status guard in the WHERE
// clause makes concurrent observers harmless: whoever loses the race simply
// affects zero rows.
func (d *Driver) ExpireInvitation(ctx context.Context, id string) error {
	return d.db.WithContext(ctx).
		Model(&store.Invitation{}).
		Where("id = ? AND status = ?", id, store.InvitationPending).
		Update("status", store.InvitationExpired).Error
}

// RevokeInvitation flips pending → revoked; any other state is a conflict.
func (d *Driver) RevokeInvitation(ctx context.Context, id string) error {
	result := d.db.WithContext(ctx).
		Model(&store.Invitation{}).
		Where("id = ? AND status = ?", id, store.InvitationPending).
		Update("status", store.InvitationRevoked)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Distinguish unknown id from a non-pending invitation.
		if _, err := d.GetInvitationByID(ctx, id); err != nil {
			return err
		}
		return store.ErrNoInvitation
	}
	return nil
}

// AcceptInvitation runs the atomic accept-or-reject transaction. All checks
// and both writes (account insert, invitation flip) happen inside one
// database transaction; any tagged failure rolls the whole thing back.
func (d *Driver) AcceptInvitation(ctx context.Context, p store.AcceptParams) (*store.Account, error) {
	email := store.NormalizeEmail(p.Email)
	var account *store.Account

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the candidate invitations so a concurrent accept for the same
		// email cannot double-spend. SQLite serializes writers regardless;
		// the locking clause carries the intent to backends that need it.
		var pending []store.Invitation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("email = ? AND status = ?", email, store.InvitationPending).
			Order("invited_at DESC").
			Find(&pending).Error; err != nil {
			return err
		}
		if len(pending) == 0 {
			return store.ErrNoInvitation
		}

		// An expired invitation is never a candidate. A newer expired one
		// must not shadow an older still-valid one for the same email.
		now := time.Now()
		invs := pending[:0]
		for i := range pending {
			if now.After(pending[i].ExpiresAt) {
				continue
			}
			invs = append(invs, pending[i])
		}
		if len(invs) == 0 {
			return store.ErrInviteExpired
		}

		// The claim token is a tie-break hint only; the email match stays
		// authoritative. Default to the newest invitation.
		inv := invs[0]
		if p.PreferredToken != "" {
			for i := range invs {
				if invs[i].Token == p.PreferredToken {
					inv = invs[i]
					break
				}
			}
		}

		var org store.Organization
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&org, "id = ?", inv.OrganizationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrOrganizationInactive
			}
			return err
		}
		if !org.Active {
			return store.ErrOrganizationInactive
		}

		// Seat count is taken under the same locks so a racing accept in
		// another transaction cannot slip under the limit.
		if org.SeatLimit > 0 {
			var members int64
			if err := tx.Model(&store.Account{}).
				Where("organization_id = ? AND active = ?", org.ID, true).
				Count(&members).Error; err != nil {
				return err
			}
			if members >= int64(org.SeatLimit) {
				return store.ErrSeatLimitReached
			}
		}

		account = &store.Account{
			ID:             uuid.NewString(),
			ExternalID:     p.ExternalID,
			Email:          email,
			Name:           p.Name,
			Role:           inv.Role,
			OrganizationID: inv.OrganizationID,
			InvitationID:   inv.ID,
			Active:         true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(account).Error; err != nil {
			return err
		}

		// Conditional flip doubles as an optimistic-concurrency check for
		// backends that ignore the row lock: zero rows affected means a
		// concurrent transaction spent the invitation first.
		result := tx.Model(&store.Invitation{}).
			Where("id = ? AND status = ?", inv.ID, store.InvitationPending).
			Updates(map[string]any{
				"status":      store.InvitationAccepted,
				"accepted_at": now,
				"accepted_by": account.ID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return store.ErrNoInvitation
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Account operations

func (d *Driver) GetAccountByExternalID(ctx context.Context, externalID string) (*store.Account, error) {
	var account store.Account
	result := d.db.WithContext(ctx).First(&account, "external_id = ?", externalID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &account, nil
}

func (d *Driver) UpdateAccount(ctx context.Context, account *store.Account) error {
	account.UpdatedAt = time.Now()
	return d.db.WithContext(ctx).Save(account).Error
}

func (d *Driver) CountActiveAccounts(ctx context.Context, organizationID string) (int64, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&store.Account{}).
		Where("organization_id = ? AND active = ?", organizationID, true).
		Count(&count).Error
	return count, err
}

// Ensure Driver implements the full store interface.
var _ store.Store = (*Driver)(nil)
