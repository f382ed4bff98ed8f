package gb

import "errors"

var errNoCartridge = errors.New("gb: no cartridge loaded")
