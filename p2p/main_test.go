package p2p_test

import (
	"github.com/rs/zerolog"
)

var testLogger = zerolog.Nop()
