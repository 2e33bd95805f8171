package qcontrol

import "strconv"

/*
Tally counts measurement outcomes by label. Both "0" and "1" are always
present, so a tally for N shots always satisfies Total() == N.
*/
type Tally map[string]int

func NewTally() Tally {
	return Tally{"0": 0, "1": 0}
}

func (t Tally) Record(bit int) {
	t[strconv.Itoa(bit)]++
}

func (t Tally) Zeros() int { return t["0"] }

func (t Tally) Ones() int { return t["1"] }

func (t Tally) Total() int {
	return t["0"] + t["1"]
}

/*
MajorityVote decodes one logical bit of a repetition code from the physical
readouts of its group. The result is 1 only when the number of ones strictly
exceeds half the group size, so an even split decodes to 0. A group of n
qubits corrects up to (n-1)/2 flipped readouts.
*/
func MajorityVote(bits []int) int {
	sum := 0
	for _, b := range bits {
		sum += b
	}

	if sum > len(bits)/2 {
		return 1
	}
	return 0
}
