package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/agent-sterling-go/internal/config"
	"github.com/mitchellh/mapstructure"
)

// Settings kinds accepted by UpdateSettings
const (
	KindAutoPost  = "auto_post"
	KindMentions  = "mentions"
	KindHashtags  = "hashtags"
	KindDM        = "dm"
	KindLike      = "like"
	KindPostStyle = "post_style"
)

// Kinds lists every settings kind
var Kinds = []string{KindAutoPost, KindMentions, KindHashtags, KindDM, KindLike, KindPostStyle}

// ErrInvalidSettings wraps every rejected settings update or start request
var ErrInvalidSettings = errors.New("invalid settings")

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
}

// mergeSettings decodes raw onto a copy of the current settings of kind,
// validates the result and returns the new settings. Fields absent from raw
// keep their current value.
func mergeSettings(current config.ServicesConfig, kind string, raw json.RawMessage) (config.ServicesConfig, error) {
	var values map[string]interface{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return current, invalid(fmt.Errorf("settings must be a JSON object: %w", err))
	}

	var target interface{}
	var validate func() error
	switch kind {
	case KindAutoPost:
		target = &current.AutoPost
		validate = func() error { return config.ValidateAutoPost(current.AutoPost) }
	case KindMentions:
		target = &current.Mentions
		validate = func() error { return config.ValidateMentions(current.Mentions) }
	case KindHashtags:
		target = &current.Hashtags
		validate = func() error { return config.ValidateHashtags(current.Hashtags) }
	case KindDM:
		target = &current.DM
		validate = func() error { return config.ValidateDM(current.DM) }
	case KindLike:
		target = &current.Like
		validate = func() error { return config.ValidateLike(current.Like) }
	case KindPostStyle:
		target = &current.PostStyle
		validate = func() error { return config.ValidatePostStyle(current.PostStyle) }
	default:
		return current, invalid(fmt.Errorf("unknown settings kind %q", kind))
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		ZeroFields:       true,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return current, err
	}
	if err := decoder.Decode(values); err != nil {
		return current, invalid(err)
	}
	if err := validate(); err != nil {
		return current, invalid(err)
	}
	return current, nil
}

// secondsToDurationHook reads plain JSON numbers as seconds
func secondsToDurationHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	if seconds, ok := data.(float64); ok && from.Kind() == reflect.Float64 {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return data, nil
}
