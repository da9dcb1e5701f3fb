package esclient

const frameHeaderLength = 4

const DefaultMaxPackageSize = 64 * 1024 * 1024

// called with the complete payload of each decoded frame.
// the payload buffer is freshly allocated per frame and owned by the callback.
type FrameCallback func(payload []byte)

// Framer is a stateful incremental decoder that turns a raw byte stream into
// discrete length-prefixed frames. Calls to Unframe are re-entrant and may be
// made with arbitrary chunk boundaries; partial-frame state is held across
// calls. A frame length outside (0, maxPackageSize] is fatal: byte alignment
// cannot be trusted afterward and the connection must be torn down.
type Framer struct {
	maxPackageSize int
	callback       FrameCallback

	headerBytes   int
	packageLength int
	buffer        []byte
	bufferIndex   int
	err           error
}

func NewFramer(callback FrameCallback) *Framer {
	return NewFramerWithMaxPackageSize(callback, DefaultMaxPackageSize)
}

func NewFramerWithMaxPackageSize(callback FrameCallback, maxPackageSize int) *Framer {
	return &Framer{
		maxPackageSize: maxPackageSize,
		callback:       callback,
	}
}

func (self *Framer) Reset() {
	self.headerBytes = 0
	self.packageLength = 0
	self.buffer = nil
	self.bufferIndex = 0
	self.err = nil
}

func (self *Framer) Unframe(data []byte) error {
	if self.err != nil {
		return self.err
	}
	for i := 0; i < len(data); {
		if self.headerBytes < frameHeaderLength {
			// little-endian order
			self.packageLength |= int(data[i]) << (8 * self.headerBytes)
			self.headerBytes += 1
			i += 1
			if self.headerBytes == frameHeaderLength {
				if self.packageLength <= 0 || self.maxPackageSize < self.packageLength {
					self.err = &FramingError{
						Length:         self.packageLength,
						MaxPackageSize: self.maxPackageSize,
					}
					return self.err
				}
				self.buffer = make([]byte, self.packageLength)
				self.bufferIndex = 0
			}
		} else {
			copyCount := min(len(data)-i, self.packageLength-self.bufferIndex)
			copy(self.buffer[self.bufferIndex:], data[i:i+copyCount])
			self.bufferIndex += copyCount
			i += copyCount
			if self.bufferIndex == self.packageLength {
				buffer := self.buffer
				self.buffer = nil
				self.headerBytes = 0
				self.packageLength = 0
				self.bufferIndex = 0
				self.callback(buffer)
			}
		}
	}
	return nil
}

// FrameData prepends the 4-byte little-endian length to the payload.
func FrameData(payload []byte) []byte {
	length := len(payload)
	framed := make([]byte, frameHeaderLength+length)
	framed[0] = byte(length)
	framed[1] = byte(length >> 8)
	framed[2] = byte(length >> 16)
	framed[3] = byte(length >> 24)
	copy(framed[frameHeaderLength:], payload)
	return framed
}
