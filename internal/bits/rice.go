package bits

// ReadRice decodes a single Rice-coded residual with the given Rice parameter
// k; a unary coded quotient followed by the k least significant bits of the
// remainder, ZigZag decoded to recover the sign.
func (br *Reader) ReadRice(k uint) (int32, error) {
	high, err := br.ReadUnary()
	if err != nil {
		return 0, err
	}
	low, err := br.Read(k)
	if err != nil {
		return 0, err
	}
	folded := uint32(high<<k | low)
	return DecodeZigZag(folded), nil
}
