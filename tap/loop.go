package tap

import (
	"errors"

	"github.com/lkyzhu/tapcfg-go/ether"
)

type FrameHandler interface {
	Recv(frame *ether.Frame)
}

type FrameHandlerFunc func(frame *ether.Frame)

func (f FrameHandlerFunc) Recv(frame *ether.Frame) {
	f(frame)
}

// RunLoop hands every frame read from the device to handler until the stream
// closes, which returns nil, or a read fails, which returns the error.
func (self *Device) RunLoop(handler FrameHandler) error {
	for {
		frame, err := self.ReadFrame()
		if errors.Is(err, ErrStreamClosed) {
			self.log.Infof("device run loop exit: stream closed\n")
			return nil
		}
		if err != nil {
			self.log.WithError(err).Errorf("device run loop exit")
			return err
		}

		handler.Recv(frame)
	}
}
