package logging

import (
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Formatter wraps logrus.TextFormatter. An optional "body" field is printed
// after the line in the color given by an optional "color" field. Without a
// body the color applies to the message.
type Formatter struct {
	Formatter logrus.TextFormatter
}

func (f *Formatter) DisableColors() {
	color.NoColor = true
	f.Formatter.DisableColors = true
}

func (f *Formatter) EnableColors() {
	color.NoColor = false
	f.Formatter.DisableColors = false
	f.Formatter.ForceColors = true
}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var printer *color.Color
	if attr, ok := entry.Data["color"].(color.Attribute); ok {
		printer = color.New(attr)
		delete(entry.Data, "color")
	}

	var body string
	hasBody := false
	switch v := entry.Data["body"].(type) {
	case []byte:
		body, hasBody = string(v), true
	case string:
		body, hasBody = v, true
	}
	if hasBody {
		delete(entry.Data, "body")
	} else if printer != nil {
		entry.Message = printer.Sprint(entry.Message)
	}

	line, err := f.Formatter.Format(entry)
	if err != nil {
		return nil, err
	}
	if hasBody {
		if printer != nil {
			body = printer.Sprint(body)
		}
		line = append(line, body...)
		line = append(line, '\n')
	}
	return line, nil
}

// NewLogger returns a logger using Formatter with full timestamps.
func NewLogger(verbose, noColor bool) *logrus.Logger {
	logger := logrus.New()
	formatter := &Formatter{}
	formatter.Formatter.FullTimestamp = true
	if noColor {
		formatter.DisableColors()
	} else {
		formatter.EnableColors()
	}
	logger.SetFormatter(formatter)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
