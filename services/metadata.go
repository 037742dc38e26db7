package services

import (
	"context"
	"strings"

	"activity-rewards-system/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MetadataService stores token metadata and returns its URI.
type MetadataService interface {
	UploadMetadata(ctx context.Context, meta *models.AchievementMetadata) (string, error)
}

// MintConfirmation is the resolution of a broadcast mint.
type MintConfirmation struct {
	TokenID   string `json:"token_id"`
	Confirmed bool   `json:"confirmed"`
}

// ExternalToken is a token as the minting service reports it.
type ExternalToken struct {
	TokenID     string `json:"token_id"`
	Owner       string `json:"owner"`
	MetadataURI string `json:"metadata_uri"`
	TxReference string `json:"tx_reference"`
}

// MintingService is the contract with the chain gateway.
// Mint returns ErrAlreadyMinted when (owner, achievementID) is already claimed.
// FindToken returns nil, nil when no token exists.
type MintingService interface {
	Mint(ctx context.Context, owner, metadataURI, achievementID string) (txReference string, err error)
	AwaitConfirmation(ctx context.Context, txReference string) (*MintConfirmation, error)
	FindToken(ctx context.Context, owner, achievementID string) (*ExternalToken, error)
}

// ActivityLabel renders an activity type for humans: TASK_COMPLETION -> "Task Completion".
func ActivityLabel(t models.ActivityType) string {
	return cases.Title(language.English).String(strings.ReplaceAll(strings.ToLower(string(t)), "_", " "))
}

// BuildMetadata fills the definition's template with the earning context of rec.
// The result is validated against the per-kind schema.
func BuildMetadata(def models.AchievementDefinition, rec *models.MintRecord) (*models.AchievementMetadata, error) {
	earned := rec.Earned.Data()
	attrs := models.AchievementAttributes{
		Kind:          def.Kind,
		ActivityType:  def.ActivityType,
		ActivityLabel: ActivityLabel(def.ActivityType),
		Threshold:     def.Threshold,
		EarnedOn:      earned.EarnedOn,
	}
	switch def.Kind {
	case models.KindMilestone:
		v := earned.Value
		attrs.MilestoneValue = &v
	case models.KindStreak:
		days := int(earned.Value)
		attrs.StreakDays = &days
	}

	meta := &models.AchievementMetadata{
		AchievementID: def.ID,
		Name:          def.Template.Name,
		Description:   def.Template.Description,
		Image:         def.Template.Image,
		Rarity:        def.Template.Rarity,
		Soulbound:     true,
		Attributes:    attrs,
	}
	if err := validate.Struct(meta); err != nil {
		return nil, &ValidationError{Fields: []FieldError{{"metadata", err.Error()}}}
	}
	return meta, nil
}
