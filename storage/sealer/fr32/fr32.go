package fr32

// Pad expands 127 byte chunks of in into 128 byte chunks of out, leaving the
// two most significant bits of every 32 byte element clear. len(out) must be
// len(in)/127*128.
func Pad(in, out []byte) {
	chunks := len(out) / 128
	for chunk := 0; chunk < chunks; chunk++ {
		pad(in[chunk*127:chunk*127+127], out[chunk*128:chunk*128+128])
	}
}

func pad(in, out []byte) {
	copy(out[:31], in[:31])

	t := in[31] >> 6
	out[31] = in[31] & 0x3f
	var v byte

	for i := 32; i < 64; i++ {
		v = in[i]
		out[i] = (v << 2) | t
		t = v >> 6
	}

	t = v >> 4
	out[63] &= 0x3f

	for i := 64; i < 96; i++ {
		v = in[i]
		out[i] = (v << 4) | t
		t = v >> 4
	}

	t = v >> 2
	out[95] &= 0x3f

	for i := 96; i < 127; i++ {
		v = in[i]
		out[i] = (v << 6) | t
		t = v >> 2
	}

	out[127] = t & 0x3f
}

// Unpad reverses Pad. len(out) must be len(in)/128*127.
func Unpad(in, out []byte) {
	chunks := len(in) / 128
	for chunk := 0; chunk < chunks; chunk++ {
		unpad(in[chunk*128:chunk*128+128], out[chunk*127:chunk*127+127])
	}
}

func unpad(in, out []byte) {
	copy(out[:31], in[:31])
	out[31] = (in[31] & 0x3f) | (in[32] << 6)

	for i := 32; i < 63; i++ {
		out[i] = (in[i] >> 2) | (in[i+1] << 6)
	}
	out[63] = ((in[63] >> 2) & 0x0f) | (in[64] << 4)

	for i := 64; i < 95; i++ {
		out[i] = (in[i] >> 4) | (in[i+1] << 4)
	}
	out[95] = ((in[95] >> 4) & 0x03) | (in[96] << 2)

	for i := 96; i < 127; i++ {
		out[i] = (in[i] >> 6) | (in[i+1] << 2)
	}
}
