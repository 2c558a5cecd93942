package ui

import (
	"github.com/AlecAivazis/survey/v2"
)

// Confirmer asks the user a yes/no question
type Confirmer interface {
	Confirm(message string) (bool, error)
}

// SurveyConfirmer prompts on the terminal
type SurveyConfirmer struct {
	Options []survey.AskOpt
}

// Confirm asks message, defaulting to no
func (s SurveyConfirmer) Confirm(message string) (bool, error) {
	ok := false
	prompt := &survey.Confirm{
		Message: message,
		Default: false,
	}
	if err := survey.AskOne(prompt, &ok, s.Options...); err != nil {
		return false, err
	}
	return ok, nil
}

// AssumeYes answers every question with yes; used for --yes
type AssumeYes struct{}

// Confirm always returns true
func (AssumeYes) Confirm(string) (bool, error) { return true, nil }
