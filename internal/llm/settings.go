package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	defaultMaxTokens         = 256
	defaultTopP              = 1.0
	defaultNumberOfResponses = 1
)

// Settings are the sampling parameters sent with every request. Zero values
// for the penalties and temperature are meaningful, so backends forward
// them as is.
type Settings struct {
	MaxTokens         int      `mapstructure:"max_tokens" validate:"gte=0"`
	Temperature       float64  `mapstructure:"temperature" validate:"gte=0,lte=2"`
	TopP              float64  `mapstructure:"top_p" validate:"gte=0,lte=1"`
	FrequencyPenalty  float64  `mapstructure:"frequency_penalty" validate:"gte=-2,lte=2"`
	PresencePenalty   float64  `mapstructure:"presence_penalty" validate:"gte=-2,lte=2"`
	NumberOfResponses int      `mapstructure:"number_of_responses" validate:"gte=1,lte=128"`
	Stop              []string `mapstructure:"stop" validate:"max=4"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxTokens:         defaultMaxTokens,
		TopP:              defaultTopP,
		NumberOfResponses: defaultNumberOfResponses,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (s Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", settingName(fe.Field()), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}

// responses is the effective number of completions to request.
func (s Settings) responses() int {
	if s.NumberOfResponses <= 0 {
		return 1
	}
	return s.NumberOfResponses
}

func settingName(field string) string {
	switch field {
	case "MaxTokens":
		return "max_tokens"
	case "TopP":
		return "top_p"
	case "FrequencyPenalty":
		return "frequency_penalty"
	case "PresencePenalty":
		return "presence_penalty"
	case "NumberOfResponses":
		return "number_of_responses"
	default:
		return strings.ToLower(field)
	}
}
