package tenant

import (
	"fmt"
	"os"

	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/platform/validator"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Keywords []seedKeyword `yaml:"keywords"`
}

type seedKeyword struct {
	Phrase   string `yaml:"phrase" validate:"required"`
	Source   string `yaml:"source" validate:"required,oneof=INTERNAL LEAD"`
	Category string `yaml:"category" validate:"required,oneof=TAKEOVER REACTIVATION"`
}

// LoadKeywordSeeds reads the default takeover/reactivation phrase list from
// a YAML file. A missing file yields an empty list, not an error, so
// deployments without seeds still start.
func LoadKeywordSeeds(path string) ([]domain.TakeoverKeyword, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read keyword seeds: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse keyword seeds: %w", err)
	}

	val := validator.New()
	keywords := make([]domain.TakeoverKeyword, 0, len(file.Keywords))
	for i, kw := range file.Keywords {
		if err := val.Struct(kw); err != nil {
			return nil, fmt.Errorf("keyword seed %d invalid: %w", i, err)
		}
		keywords = append(keywords, domain.TakeoverKeyword{
			Phrase:   kw.Phrase,
			Source:   domain.KeywordSource(kw.Source),
			Category: domain.KeywordCategory(kw.Category),
		})
	}
	return keywords, nil
}
