package sindex

// Z is a Morton (Z-order) code interleaving a column in the even bits with a row in the odd bits.
type Z = uint64

// maxAxis is the largest column or row a Z can hold.
const maxAxis = 1<<32 - 1

// spread moves the low 32 bits of v to the even bit positions.
func spread(v uint64) uint64 {
	v &= maxAxis
	v = (v | v<<16) & 0x0000ffff0000ffff
	v = (v | v<<8) & 0x00ff00ff00ff00ff
	v = (v | v<<4) & 0x0f0f0f0f0f0f0f0f
	v = (v | v<<2) & 0x3333333333333333
	v = (v | v<<1) & 0x5555555555555555
	return v
}

// compact is the inverse of spread.
func compact(v uint64) uint64 {
	v &= 0x5555555555555555
	v = (v | v>>1) & 0x3333333333333333
	v = (v | v>>2) & 0x0f0f0f0f0f0f0f0f
	v = (v | v>>4) & 0x00ff00ff00ff00ff
	v = (v | v>>8) & 0x0000ffff0000ffff
	v = (v | v>>16) & 0x00000000ffffffff
	return v
}

func toZ(col, row uint64) Z {
	return spread(col) | spread(row)<<1
}

func fromZ(z Z) (col, row uint64) {
	return compact(z), compact(z >> 1)
}
