package models

// AchievementKind decides which progress value a definition is compared against.
type AchievementKind string

const (
	KindMilestone AchievementKind = "MILESTONE"
	KindStreak    AchievementKind = "STREAK"
)

// MilestoneMetric picks the cumulative counter a MILESTONE is measured on.
type MilestoneMetric string

const (
	MetricCount  MilestoneMetric = "count"
	MetricAmount MilestoneMetric = "amount"
)

// MetadataTemplate is the static, per-definition part of the token metadata.
type MetadataTemplate struct {
	Name        string `yaml:"name" json:"name" validate:"required,max=64"`
	Description string `yaml:"description" json:"description" validate:"required,max=280"`
	Image       string `yaml:"image" json:"image" validate:"required,url"`
	Rarity      string `yaml:"rarity" json:"rarity" validate:"omitempty,oneof=common rare epic legendary"`
}

// AchievementDefinition is one entry of the externally configured catalog.
// Definitions are immutable once the catalog is loaded.
type AchievementDefinition struct {
	ID           string           `yaml:"id" json:"id" validate:"required,max=64"`
	Kind         AchievementKind  `yaml:"kind" json:"kind" validate:"required,oneof=MILESTONE STREAK"`
	ActivityType ActivityType     `yaml:"activity_type" json:"activity_type" validate:"required,oneof=LOGIN PAYMENT TASK_COMPLETION QUEST_COMPLETION"`
	Metric       MilestoneMetric  `yaml:"metric" json:"metric,omitempty" validate:"omitempty,oneof=count amount"`
	Threshold    float64          `yaml:"threshold" json:"threshold" validate:"gt=0"`
	Active       bool             `yaml:"active" json:"active"`
	Template     MetadataTemplate `yaml:"metadata" json:"metadata"`
}

// AchievementAttributes carries the kind-specific facts of the token metadata.
// Exactly one of MilestoneValue / StreakDays is set, matching Kind.
type AchievementAttributes struct {
	Kind           AchievementKind `json:"kind" validate:"required,oneof=MILESTONE STREAK"`
	ActivityType   ActivityType    `json:"activity_type" validate:"required"`
	ActivityLabel  string          `json:"activity_label" validate:"required"`
	Threshold      float64         `json:"threshold" validate:"gt=0"`
	MilestoneValue *float64        `json:"milestone_value,omitempty" validate:"required_if=Kind MILESTONE,excluded_if=Kind STREAK"`
	StreakDays     *int            `json:"streak_days,omitempty" validate:"required_if=Kind STREAK,excluded_if=Kind MILESTONE"`
	EarnedOn       string          `json:"earned_on" validate:"required,datetime=2006-01-02"`
}

// AchievementMetadata is the document uploaded to the metadata service.
type AchievementMetadata struct {
	AchievementID string                `json:"achievement_id" validate:"required"`
	Name          string                `json:"name" validate:"required"`
	Description   string                `json:"description" validate:"required"`
	Image         string                `json:"image" validate:"required,url"`
	Rarity        string                `json:"rarity,omitempty"`
	Soulbound     bool                  `json:"soulbound"`
	Attributes    AchievementAttributes `json:"attributes"`
}

// DefaultCatalog is used when no catalog file is configured.
var DefaultCatalog = []AchievementDefinition{
	{
		ID:           "first_login",
		Kind:         KindMilestone,
		ActivityType: ActivityLogin,
		Threshold:    1,
		Active:       true,
		Template: MetadataTemplate{
			Name:        "Welcome Aboard!",
			Description: "Logged in for the first time",
			Image:       "https://cdn.example.com/achievements/first_login.png",
			Rarity:      "common",
		},
	},
	{
		ID:           "first_payment",
		Kind:         KindMilestone,
		ActivityType: ActivityPayment,
		Threshold:    1,
		Active:       true,
		Template: MetadataTemplate{
			Name:        "First Payment",
			Description: "Completed your first payment",
			Image:       "https://cdn.example.com/achievements/first_payment.png",
			Rarity:      "common",
		},
	},
	{
		ID:           "week_warrior",
		Kind:         KindStreak,
		ActivityType: ActivityLogin,
		Threshold:    7,
		Active:       true,
		Template: MetadataTemplate{
			Name:        "Week Warrior",
			Description: "Logged in 7 days in a row",
			Image:       "https://cdn.example.com/achievements/week_warrior.png",
			Rarity:      "rare",
		},
	},
	{
		ID:           "task_master",
		Kind:         KindMilestone,
		ActivityType: ActivityTaskCompletion,
		Threshold:    25,
		Active:       true,
		Template: MetadataTemplate{
			Name:        "Task Master",
			Description: "Completed 25 tasks",
			Image:       "https://cdn.example.com/achievements/task_master.png",
			Rarity:      "epic",
		},
	},
	{
		ID:           "big_spender",
		Kind:         KindMilestone,
		ActivityType: ActivityPayment,
		Metric:       MetricAmount,
		Threshold:    1000,
		Active:       true,
		Template: MetadataTemplate{
			Name:        "Big Spender",
			Description: "Paid a total of 1000",
			Image:       "https://cdn.example.com/achievements/big_spender.png",
			Rarity:      "legendary",
		},
	},
	{
		ID:           "quest_streak_30",
		Kind:         KindStreak,
		ActivityType: ActivityQuestCompletion,
		Threshold:    30,
		Active:       true,
		Template: MetadataTemplate{
			Name:        "Relentless",
			Description: "Completed a quest 30 days in a row",
			Image:       "https://cdn.example.com/achievements/quest_streak_30.png",
			Rarity:      "legendary",
		},
	},
}
