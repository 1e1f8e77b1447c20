//go:build !govips || !cgo

package pipeline

const Backend = "imaging"

func Startup() error {
	return nil
}

func Shutdown() {}

func newTransformer() (Transformer, error) {
	return imagingTransformer{}, nil
}
