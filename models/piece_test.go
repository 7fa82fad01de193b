package models

import (
	"testing"
)

func validPiece() *Piece {
	return &Piece{
		Head: Coordinate{X: 2, Y: 0},
		Body: []Coordinate{{X: 2, Y: 1}, {X: 2, Y: 2}},
		Wing: []Coordinate{{X: 1, Y: 1}, {X: 3, Y: 1}},
		Tail: Coordinate{X: 2, Y: 3},
	}
}

func TestPieceValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Piece)
		wantErr bool
	}{
		{"valid shape", func(p *Piece) {}, false},
		{"head out of bounds", func(p *Piece) { p.Head = Coordinate{X: 10, Y: 0} }, true},
		{"negative coordinate", func(p *Piece) { p.Tail = Coordinate{X: -1, Y: 3} }, true},
		{"duplicate cells", func(p *Piece) { p.Tail = p.Head }, true},
		{"missing body cell", func(p *Piece) { p.Body = p.Body[:1] }, true},
		{"extra wing cell", func(p *Piece) { p.Wing = append(p.Wing, Coordinate{X: 5, Y: 5}) }, true},
		{"body overlaps wing", func(p *Piece) { p.Body[0] = p.Wing[0] }, true},
		{"corner cells ok", func(p *Piece) {
			*p = Piece{
				Head: Coordinate{X: 0, Y: 0},
				Body: []Coordinate{{X: 9, Y: 9}, {X: 0, Y: 9}},
				Wing: []Coordinate{{X: 9, Y: 0}, {X: 5, Y: 5}},
				Tail: Coordinate{X: 4, Y: 4},
			}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPiece()
			tt.mutate(p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPieceOccupies(t *testing.T) {
	p := validPiece()
	for _, c := range p.Cells() {
		if !p.Occupies(c) {
			t.Errorf("expected piece to occupy %+v", c)
		}
	}
	if p.Occupies(Coordinate{X: 9, Y: 9}) {
		t.Error("piece should not occupy an empty cell")
	}
	if len(p.Cells()) != PieceCells {
		t.Errorf("expected %d cells, got %d", PieceCells, len(p.Cells()))
	}
}

func TestPieceMarshalRoundTrip(t *testing.T) {
	p := validPiece()
	raw, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalPiece(raw)
	if err != nil {
		t.Fatalf("UnmarshalPiece: %v", err)
	}
	if got.Head != p.Head || got.Tail != p.Tail {
		t.Errorf("round trip mismatch: got %+v want %+v", got, p)
	}

	empty, err := UnmarshalPiece("")
	if err != nil || empty != nil {
		t.Errorf("empty column should mean not placed, got %v / %v", empty, err)
	}
}
