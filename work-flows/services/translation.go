package services

import (
	"fmt"
	"strings"

	googletranslatefree "github.com/bas24/googletranslatefree"
)

const DefaultTranslateTarget = "ur"

// TranslateFunc matches googletranslatefree.Translate.
type TranslateFunc func(text, sourceLang, targetLang string) (string, error)

type Translator struct {
	sourceLang string
	targetLang string
	translate  TranslateFunc
}

func NewTranslator(sourceLang, targetLang string) *Translator {
	return NewTranslatorWithFunc(sourceLang, targetLang, googletranslatefree.Translate)
}

func NewTranslatorWithFunc(sourceLang, targetLang string, fn TranslateFunc) *Translator {
	if sourceLang == "" {
		sourceLang = "en"
	}
	if targetLang == "" {
		targetLang = DefaultTranslateTarget
	}
	return &Translator{
		sourceLang: sourceLang,
		targetLang: targetLang,
		translate:  fn,
	}
}

func (t *Translator) TargetLang() string {
	return t.targetLang
}

func (t *Translator) Translate(text string) (string, error) {
	return t.TranslateTo(text, t.targetLang)
}

// TranslateTo overrides the target language for one call.
func (t *Translator) TranslateTo(text, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if targetLang == "" {
		targetLang = t.targetLang
	}

	translatedText, err := t.translate(text, t.sourceLang, targetLang)
	if err != nil {
		return "", fmt.Errorf("translation failed: %w", err)
	}

	return translatedText, nil
}
