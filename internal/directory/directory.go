package directory

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/identity-gateway/internal/models"
)

var ErrNotFound = errors.New("identity not found")

// Directory is the lookup/update surface over persisted identities. It is the
// sole writer of the User entity; the resolver never mutates users directly.
type Directory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	// RotateRefreshToken replaces the stored refresh token only if the stored
	// value still equals old. Returns false when the compare-and-swap lost:
	// the value was already rotated by a racing request, or the row is gone.
	RotateRefreshToken(ctx context.Context, id, email, old, new string) (bool, error)
	// SetRefreshToken overwrites the stored refresh token unconditionally.
	// An empty value clears the slot.
	SetRefreshToken(ctx context.Context, id, refresh string) error
	// SetFederatedUID links a federated identity to an existing row; it only
	// fills an empty slot and never overwrites an established link.
	SetFederatedUID(ctx context.Context, id, uid string) error
	Create(ctx context.Context, u *models.User) error
}

type GormDirectory struct {
	DB *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{DB: db}
}

func (d *GormDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := d.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (d *GormDirectory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := d.DB.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// The match-then-replace is a single conditional UPDATE so that two requests
// racing with the same stale refresh token cannot both rotate successfully.
func (d *GormDirectory) RotateRefreshToken(ctx context.Context, id, email, old, new string) (bool, error) {
	res := d.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND email = ? AND refresh_token = ?", id, NormalizeEmail(email), old).
		Update("refresh_token", new)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *GormDirectory) SetRefreshToken(ctx context.Context, id, refresh string) error {
	var value *string
	if refresh != "" {
		value = &refresh
	}
	res := d.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("refresh_token", value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *GormDirectory) SetFederatedUID(ctx context.Context, id, uid string) error {
	res := d.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND (federated_uid = '' OR federated_uid IS NULL)", id).
		Update("federated_uid", uid)
	if res.Error != nil {
		return res.Error
	}
	return nil
}

func (d *GormDirectory) Create(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	return d.DB.WithContext(ctx).Create(u).Error
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
