//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func newPreviewer() (Previewer, error) {
	return stdlibPreviewer{}, nil
}
