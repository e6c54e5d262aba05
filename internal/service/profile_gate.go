package service

import (
	"context"
	"strings"
	"time"

	"guide-connect/internal/domain"
)

// UpdateProfileInput lleva los campos opcionales de PUT /auth/profile.
// Punteros nil significan "no tocar".
type UpdateProfileInput struct {
	Name              *string
	Phone             *string
	Country           *string
	Gender            *string
	AvatarURL         *string
	Role              *domain.Role
	ProfileIncomplete *bool

	Specialties       []string
	Languages         []string
	Experience        *string
	ExperienceYears   *int
	ExperienceDetails *string
	Certificates      []domain.Certificate
	Location          *string
	Bio               *string
	Available         *bool
}

var guideSpecialties = map[string]bool{
	"trekking":       true,
	"culture":        true,
	"adventure":      true,
	"spiritual":      true,
	"photography":    true,
	"wildlife":       true,
	"mountaineering": true,
}

// UpdateProfile aplica la actualización bajo la puerta de perfil completo:
// mientras profileIncomplete es true, phone/country/gender son opcionales; al
// completarse pasan a ser obligatorios en cada actualización posterior, junto
// con el perfil de guía cuando el rol es guide. La puerta nunca se reabre.
func (s *AuthService) UpdateProfile(ctx context.Context, id string, input UpdateProfileInput) (domain.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	candidate := user
	if input.Name != nil {
		candidate.Name = strings.TrimSpace(*input.Name)
	}
	if input.Phone != nil {
		candidate.Phone = strings.TrimSpace(*input.Phone)
	}
	if input.Country != nil {
		candidate.Country = strings.TrimSpace(*input.Country)
	}
	if input.Gender != nil {
		candidate.Gender = strings.TrimSpace(*input.Gender)
	}
	if input.AvatarURL != nil {
		candidate.AvatarURL = strings.TrimSpace(*input.AvatarURL)
	}

	verr := domain.NewValidationError()
	if input.Role != nil {
		role := *input.Role
		if !role.Valid() {
			verr.Add("role", "Role must be tourist, guide or admin")
		} else if role == domain.RoleAdmin && user.Role != domain.RoleAdmin {
			// El rol admin no se autoasigna via perfil.
			verr.Add("role", "Role admin cannot be self-assigned")
		} else {
			candidate.Role = role
		}
	}

	// Una vez cerrada, la puerta no se reabre dentro de este subsistema.
	completing := user.ProfileIncomplete && input.ProfileIncomplete != nil && !*input.ProfileIncomplete
	candidate.ProfileIncomplete = user.ProfileIncomplete && !completing

	if candidate.Role == domain.RoleGuide {
		candidate.Guide = mergeGuideProfile(user.Guide, input)
	} else {
		// Campos de guía enviados sin transición a guide no se persisten
		// como estado de guía.
		candidate.Guide = user.Guide
	}

	if vErr := validateProfile(candidate, verr); !vErr.Empty() {
		return domain.User{}, vErr
	}

	candidate.UpdatedAt = time.Now().UTC()
	updated, err := s.users.UpdateProfile(ctx, candidate)
	if err != nil {
		return domain.User{}, err
	}
	return updated, nil
}

func mergeGuideProfile(current *domain.GuideProfile, input UpdateProfileInput) *domain.GuideProfile {
	guide := domain.GuideProfile{
		Languages:       []string{"English", "Nepali"},
		Experience:      "1 year",
		ExperienceYears: 1,
		Location:        "Kathmandu",
		Available:       true,
		Rating:          4.5,
		Verification:    domain.VerificationPending,
	}
	if current != nil {
		guide = *current
	}

	if input.Specialties != nil {
		guide.Specialties = input.Specialties
	}
	if input.Languages != nil {
		guide.Languages = input.Languages
	}
	if input.Experience != nil {
		guide.Experience = strings.TrimSpace(*input.Experience)
	}
	if input.ExperienceYears != nil {
		guide.ExperienceYears = *input.ExperienceYears
	}
	if input.ExperienceDetails != nil {
		guide.ExperienceDetails = strings.TrimSpace(*input.ExperienceDetails)
	}
	if input.Certificates != nil {
		guide.Certificates = input.Certificates
	}
	if input.Location != nil {
		guide.Location = strings.TrimSpace(*input.Location)
	}
	if input.Bio != nil {
		guide.Bio = strings.TrimSpace(*input.Bio)
	}
	if input.Available != nil {
		guide.Available = *input.Available
	}
	return &guide
}

// validateProfile valida el estado candidato completo. La obligatoriedad
// depende del valor de otros campos (profileIncomplete, role), por eso es una
// función explícita y no reglas declarativas por campo.
func validateProfile(candidate domain.User, verr *domain.ValidationError) *domain.ValidationError {
	if verr == nil {
		verr = domain.NewValidationError()
	}

	if candidate.Name == "" {
		verr.Add("name", "Name is required")
	} else if len(candidate.Name) > 100 {
		verr.Add("name", "Name cannot exceed 100 characters")
	}

	if candidate.Gender != "" && !validGender(candidate.Gender) {
		verr.Add("gender", "Gender must be male, female or other")
	}

	if !candidate.ProfileIncomplete {
		if candidate.Phone == "" {
			verr.Add("phone", "Phone is required")
		}
		if candidate.Country == "" {
			verr.Add("country", "Country is required")
		}
		if candidate.Gender == "" {
			verr.Add("gender", "Gender is required")
		}
	}

	if candidate.Role == domain.RoleGuide && candidate.Guide != nil {
		for _, sp := range candidate.Guide.Specialties {
			if !guideSpecialties[sp] {
				verr.Add("specialties", "Unknown specialty: "+sp)
				break
			}
		}
		if candidate.Guide.Bio != "" && len(candidate.Guide.Bio) > 500 {
			verr.Add("bio", "Bio cannot exceed 500 characters")
		}
		if candidate.Guide.ExperienceDetails != "" && len(candidate.Guide.ExperienceDetails) > 1000 {
			verr.Add("experienceDetails", "Experience details cannot exceed 1000 characters")
		}
		if candidate.Guide.ExperienceYears < 0 {
			verr.Add("experienceYears", "Experience years cannot be negative")
		}
	}

	if candidate.Role == domain.RoleGuide && !candidate.ProfileIncomplete {
		if candidate.Guide == nil || len(candidate.Guide.Specialties) == 0 {
			verr.Add("specialties", "At least one specialty is required")
		}
		if candidate.Guide == nil || len(candidate.Guide.Languages) == 0 {
			verr.Add("languages", "At least one language is required")
		}
	}

	return verr
}

func validGender(g string) bool {
	switch g {
	case "male", "female", "other":
		return true
	}
	return false
}
