package logger

import (
	"fmt"
	"io"
	"log"
)

func Null() *log.Logger {
	return log.New(io.Discard, "", log.LstdFlags)
}

func Default() *log.Logger {
	return log.Default()
}

// For returns a logger writing to w, prefixed with the name of the component.
func For(w io.Writer, component string) *log.Logger {
	return log.New(w, fmt.Sprintf("[%s] ", component), log.LstdFlags)
}
