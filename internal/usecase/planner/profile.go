package planner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"content-autopilot/internal/domain"
)

// Profile задаёт параметры построения карты тем.
type Profile struct {
	DefaultTotal        int                        `yaml:"default_total"`
	RefreshCount        int                        `yaml:"refresh_count"`
	ResearchConcurrency int                        `yaml:"research_concurrency"`
	HardDifficulty      int                        `yaml:"hard_difficulty"`
	HardBonusPercent    int                        `yaml:"hard_bonus_percent"`
	WordCounts          map[domain.ContentType]int `yaml:"word_counts"`
}

// DefaultProfile возвращает профиль по умолчанию.
func DefaultProfile() Profile {
	return Profile{
		DefaultTotal:        40,
		RefreshCount:        5,
		ResearchConcurrency: 3,
		HardDifficulty:      60,
		HardBonusPercent:    20,
		WordCounts: map[domain.ContentType]int{
			domain.ContentTypeArticle:    1200,
			domain.ContentTypeGuide:      2500,
			domain.ContentTypeHowTo:      1500,
			domain.ContentTypeListicle:   1800,
			domain.ContentTypeComparison: 2000,
		},
	}
}

// LoadProfile читает YAML-профиль поверх значений по умолчанию. Пустой путь даёт профиль по умолчанию.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("чтение профиля планировщика: %w", err)
	}
	return parseProfile(profile, data)
}

func parseProfile(base Profile, data []byte) (Profile, error) {
	var override Profile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Profile{}, fmt.Errorf("разбор профиля планировщика: %w", err)
	}
	if override.DefaultTotal > 0 {
		base.DefaultTotal = override.DefaultTotal
	}
	if override.RefreshCount > 0 {
		base.RefreshCount = override.RefreshCount
	}
	if override.ResearchConcurrency > 0 {
		base.ResearchConcurrency = override.ResearchConcurrency
	}
	if override.HardDifficulty > 0 {
		base.HardDifficulty = override.HardDifficulty
	}
	if override.HardBonusPercent > 0 {
		base.HardBonusPercent = override.HardBonusPercent
	}
	for kind, words := range override.WordCounts {
		if words > 0 {
			base.WordCounts[kind] = words
		}
	}
	return base, nil
}

// TargetWordCount возвращает целевой объём статьи; сложные ключи получают надбавку.
func (p Profile) TargetWordCount(kind domain.ContentType, difficulty int) int {
	words, ok := p.WordCounts[kind]
	if !ok {
		words = p.WordCounts[domain.ContentTypeArticle]
	}
	if words <= 0 {
		words = 1200
	}
	if p.HardDifficulty > 0 && difficulty >= p.HardDifficulty {
		words += words * p.HardBonusPercent / 100
	}
	return words
}
