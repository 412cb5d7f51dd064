package main

import (
	"bytes"
	"testing"
)

func runApp(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out

	err := app.Run(append([]string{"seal-stress"}, args...))
	return out.String(), err
}
