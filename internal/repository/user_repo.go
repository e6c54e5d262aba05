package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"guide-connect/internal/domain"
)

// ErrDuplicateEmail se devuelve cuando el indice unico de email rechaza una escritura.
var ErrDuplicateEmail = errors.New("duplicate email")

// UserRepository define el contrato de persistencia para usuarios.
// Las operaciones que resuelven carreras (unicidad de email, consumo de token
// de reset, primer contacto OAuth) son atomicas a nivel de documento.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateProfile(ctx context.Context, user domain.User) (domain.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (domain.User, error)
	UpsertByEmail(ctx context.Context, user domain.User) (domain.User, error)
	LinkGoogleID(ctx context.Context, id, googleID string) error
	ListGuides(ctx context.Context) ([]domain.User, error)
	SetVerificationStatus(ctx context.Context, id string, status domain.VerificationStatus) (domain.User, error)
}

// MongoUserRepository implementa UserRepository sobre la coleccion users.
type MongoUserRepository struct {
	users *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{users: db.Collection("users")}
}

// EnsureIndexes crea el indice unico de email y los indices de consulta.
// La unicidad de email vive en el storage, no solo en la capa de aplicacion.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "role", Value: 1}}},
		{Keys: bson.D{{Key: "guide.available", Value: 1}}},
	})
	return err
}

func (r *MongoUserRepository) Create(ctx context.Context, user domain.User) error {
	_, err := r.users.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	return u, err
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := r.users.FindOne(ctx, bson.M{"email": email}).Decode(&u)
	return u, err
}

func (r *MongoUserRepository) UpdateProfile(ctx context.Context, user domain.User) (domain.User, error) {
	set := bson.M{
		"name":              user.Name,
		"phone":             user.Phone,
		"country":           user.Country,
		"gender":            user.Gender,
		"role":              user.Role,
		"avatar":            user.AvatarURL,
		"profileIncomplete": user.ProfileIncomplete,
		"updatedAt":         user.UpdatedAt,
	}
	update := bson.M{"$set": set}
	if user.Guide != nil {
		set["guide"] = user.Guide
	} else {
		update["$unset"] = bson.M{"guide": ""}
	}

	var updated domain.User
	err := r.users.FindOneAndUpdate(
		ctx,
		bson.M{"_id": user.ID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	return updated, err
}

func (r *MongoUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"passwordHash": passwordHash,
		"updatedAt":    time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (r *MongoUserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"lastLogin": at}})
	return err
}

func (r *MongoUserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	res, err := r.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"passwordResetTokenHash": tokenHash,
		"passwordResetExpiresAt": expiresAt,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// ConsumeResetToken busca el hash presentado con expiracion vigente y, en la
// misma operacion, fija el nuevo password y limpia ambos campos de reset.
// Un segundo intento con el mismo token ya no encuentra documento.
func (r *MongoUserRepository) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (domain.User, error) {
	filter := bson.M{
		"passwordResetTokenHash": tokenHash,
		"passwordResetExpiresAt": bson.M{"$gt": now},
	}
	update := bson.M{
		"$set": bson.M{
			"passwordHash": newPasswordHash,
			"updatedAt":    now,
		},
		"$unset": bson.M{
			"passwordResetTokenHash": "",
			"passwordResetExpiresAt": "",
		},
	}

	var updated domain.User
	err := r.users.FindOneAndUpdate(
		ctx,
		filter,
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	return updated, err
}

// UpsertByEmail inserta el usuario si el email no existe y devuelve el
// documento resultante. Dos callbacks concurrentes para un mismo email
// inedito producen exactamente una cuenta.
func (r *MongoUserRepository) UpsertByEmail(ctx context.Context, user domain.User) (domain.User, error) {
	var result domain.User
	err := r.users.FindOneAndUpdate(
		ctx,
		bson.M{"email": user.Email},
		bson.M{"$setOnInsert": user},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&result)
	return result, err
}

// LinkGoogleID fija el identificador del proveedor solo si aun no esta puesto;
// nunca toca passwordHash.
func (r *MongoUserRepository) LinkGoogleID(ctx context.Context, id, googleID string) error {
	_, err := r.users.UpdateOne(
		ctx,
		bson.M{"_id": id, "googleId": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"googleId": googleID, "updatedAt": time.Now().UTC()}},
	)
	return err
}

func (r *MongoUserRepository) ListGuides(ctx context.Context) ([]domain.User, error) {
	cursor, err := r.users.Find(ctx, bson.M{"role": domain.RoleGuide})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var guides []domain.User
	if err := cursor.All(ctx, &guides); err != nil {
		return nil, err
	}
	return guides, nil
}

func (r *MongoUserRepository) SetVerificationStatus(ctx context.Context, id string, status domain.VerificationStatus) (domain.User, error) {
	var updated domain.User
	err := r.users.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id, "role": domain.RoleGuide},
		bson.M{"$set": bson.M{"guide.verificationStatus": status, "updatedAt": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	return updated, err
}
