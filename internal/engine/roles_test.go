package engine

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("id%d", i)
	}
	return out
}

func TestAssignRoles_ExactCounts(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 7))
	for n := 2; n <= 12; n++ {
		for k := 1; k <= n/2; k++ {
			roles := AssignRoles(ids(n), k, r)
			require.Len(t, roles, n)

			impostors := 0
			for _, role := range roles {
				if role == RoleImpostor {
					impostors++
				}
			}
			if impostors != k {
				t.Fatalf("n=%d k=%d: got %d impostors", n, k, impostors)
			}
		}
	}
}

func TestAssignRoles_ClampsBadK(t *testing.T) {
	roles := AssignRoles(ids(4), 9, nil)
	impostors := 0
	for _, role := range roles {
		if role == RoleImpostor {
			impostors++
		}
	}
	require.Equal(t, 2, impostors)
}

func TestAssignRoles_ReproducibleWithSeed(t *testing.T) {
	a := AssignRoles(ids(8), 3, rand.New(rand.NewPCG(42, 99)))
	b := AssignRoles(ids(8), 3, rand.New(rand.NewPCG(42, 99)))
	require.Equal(t, a, b)
}

func TestAssignRoles_DoesNotReorderInput(t *testing.T) {
	in := ids(6)
	AssignRoles(in, 2, nil)
	require.Equal(t, ids(6), in)
}

// Every id should be the impostor about equally often. A sort-by-random
// comparator skews this heavily towards some positions.
func TestAssignRoles_UniformSelection(t *testing.T) {
	const (
		n      = 5
		trials = 50000
	)
	r := rand.New(rand.NewPCG(2024, 11))
	counts := map[string]int{}
	in := ids(n)

	for range trials {
		for id, role := range AssignRoles(in, 1, r) {
			if role == RoleImpostor {
				counts[id]++
			}
		}
	}

	want := trials / n
	for _, id := range in {
		got := counts[id]
		if got < want*95/100 || got > want*105/100 {
			t.Fatalf("id %s chosen %d times, want about %d (counts=%v)", id, got, want, counts)
		}
	}
}

func TestRoomCode(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for range 100 {
		code := NewRoomCode(r)
		require.Len(t, code, RoomCodeLength)
		norm, err := NormalizeRoomCode(code)
		require.NoError(t, err)
		require.Equal(t, code, norm)
	}

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: " ab2c ", want: "AB2C"},
		{in: "xyz", want: "XYZ"},
		{in: "AB", wantErr: true},
		{in: "ABCDE", wantErr: true},
		{in: "AB0C", wantErr: true},
		{in: "ABIC", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeRoomCode(tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidRoomCode)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
