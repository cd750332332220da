package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"afriverse/core/internal/auth"
	"afriverse/core/internal/config"
	"afriverse/core/internal/db"
	"afriverse/core/internal/models"
	"afriverse/core/internal/utils"
)

// IUserService defines the interface for account and profile operations.
type IUserService interface {
	Register(ctx context.Context, email, password, displayName string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	FindByID(ctx context.Context, userID utils.ShortID) (*models.User, error)
	// GetProfile returns the user's profile, lazily initializing the profile
	// fields on first view if they were never set.
	GetProfile(ctx context.Context, userID utils.ShortID) (*models.User, error)
	UpdateProfile(ctx context.Context, userID utils.ShortID, updates map[string]interface{}) (*models.User, error)
	SetAvatarKey(ctx context.Context, userID utils.ShortID, avatarKey string) error
}

const usersCollection = "users"

// ErrInvalidCredentials is returned for a wrong email/password pair. It is
// deliberately indistinguishable between the two cases.
var ErrInvalidCredentials = errors.New("invalid email or password")

// userService implements IUserService.
type userService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewUserService creates a new UserService.
func NewUserService(db *mongo.Database, cfg *config.Config) IUserService {
	return &userService{db: db, cfg: cfg}
}

// Register creates a new account with a bcrypt password hash.
func (s *userService) Register(ctx context.Context, email, password, displayName string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	collection := s.db.Collection(usersCollection)

	// Reject duplicate emails up front; the unique check below is best-effort
	// without a unique index on email.
	count, err := collection.CountDocuments(ctx, bson.M{"email": email, "deleted": false})
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing account: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("account with email %s already exists", email)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var newUser *models.User

	operation := func() error {
		newUser = &models.User{
			Base:         models.NewBase(),
			Email:        email,
			PasswordHash: hash,
			DisplayName:  displayName,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		_, insertErr := collection.InsertOne(ctx, newUser)
		return insertErr
	}

	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to create account for %s after multiple retries: %w", email, err)
	}

	return newUser, nil
}

// Authenticate checks an email/password pair.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"email": email, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error looking up account %s: %w", email, err)
	}

	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// FindByID finds a non-deleted user by ID.
func (s *userService) FindByID(ctx context.Context, userID utils.ShortID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error finding user %s: %w", userID.String(), err)
	}
	return &user, nil
}

// GetProfile returns the profile, filling in a default display name on first
// view if the account was created without one.
func (s *userService) GetProfile(ctx context.Context, userID utils.ShortID) (*models.User, error) {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.DisplayName == "" {
		// Lazy initialization: derive a display name from the email local part.
		displayName := user.Email
		if at := strings.Index(displayName, "@"); at > 0 {
			displayName = displayName[:at]
		}
		update := bson.M{"$set": bson.M{"display_name": displayName, "updated_at": time.Now().UTC()}}
		if _, uerr := s.db.Collection(usersCollection).UpdateByID(ctx, userID, update); uerr != nil {
			// Non-fatal: return the profile with the derived name anyway.
			return user, nil
		}
		user.DisplayName = displayName
	}
	return user, nil
}

// UpdateProfile updates the user-editable profile fields.
func (s *userService) UpdateProfile(ctx context.Context, userID utils.ShortID, updates map[string]interface{}) (*models.User, error) {
	allowedUpdates := bson.M{}
	for key, value := range updates {
		switch key {
		case "display_name", "bio", "location", "onboarded":
			allowedUpdates[key] = value
		default:
			return nil, fmt.Errorf("field '%s' cannot be updated via UpdateProfile", key)
		}
	}
	if len(allowedUpdates) == 0 {
		return nil, fmt.Errorf("no valid fields provided for update")
	}
	allowedUpdates["updated_at"] = time.Now().UTC()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.User
	err := s.db.Collection(usersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$set": allowedUpdates},
		opts,
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update profile %s: %w", userID.String(), err)
	}
	return &updated, nil
}

// SetAvatarKey stores the S3 key of a freshly uploaded avatar.
func (s *userService) SetAvatarKey(ctx context.Context, userID utils.ShortID, avatarKey string) error {
	result, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$set": bson.M{"avatar_key": avatarKey, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("db error setting avatar for user %s: %w", userID.String(), err)
	}
	if result.MatchedCount == 0 {
		return db.ErrNotFound
	}
	return nil
}
