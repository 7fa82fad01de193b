package models

import (
	"encoding/json"
	"errors"
)

// Grid bounds and the fixed plane shape. A piece occupies exactly
// 6 cells: 1 head, 2 body, 2 wings, 1 tail, all inside the 10x10 grid.
const (
	GridSize = 10

	HeadCells  = 1
	BodyCells  = 2
	WingCells  = 2
	TailCells  = 1
	PieceCells = HeadCells + BodyCells + WingCells + TailCells
)

type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// InBounds reports whether the coordinate lies on the 10x10 grid.
func (c Coordinate) InBounds() bool {
	return c.X >= 0 && c.X < GridSize && c.Y >= 0 && c.Y < GridSize
}

// Piece is the hidden plane layout a player places during the placement
// phase. Only the head ends the match when hit; every other occupied
// cell degrades to a body hit.
type Piece struct {
	Head Coordinate   `json:"head"`
	Body []Coordinate `json:"body"`
	Wing []Coordinate `json:"wing"`
	Tail Coordinate   `json:"tail"`
}

var ErrInvalidPiece = errors.New("invalid piece placement")

// Cells returns all occupied coordinates, head first.
func (p *Piece) Cells() []Coordinate {
	cells := make([]Coordinate, 0, PieceCells)
	cells = append(cells, p.Head)
	cells = append(cells, p.Body...)
	cells = append(cells, p.Wing...)
	cells = append(cells, p.Tail)
	return cells
}

// Validate enforces the fixed shape: exact cell counts, every cell in
// bounds, all cells pairwise distinct.
func (p *Piece) Validate() error {
	if len(p.Body) != BodyCells || len(p.Wing) != WingCells {
		return ErrInvalidPiece
	}
	cells := p.Cells()
	if len(cells) != PieceCells {
		return ErrInvalidPiece
	}
	seen := make(map[Coordinate]struct{}, PieceCells)
	for _, c := range cells {
		if !c.InBounds() {
			return ErrInvalidPiece
		}
		if _, dup := seen[c]; dup {
			return ErrInvalidPiece
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Occupies reports whether the piece covers the coordinate.
func (p *Piece) Occupies(c Coordinate) bool {
	for _, cell := range p.Cells() {
		if cell == c {
			return true
		}
	}
	return false
}

// Marshal serializes the piece for the text column on Match.
func (p *Piece) Marshal() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// UnmarshalPiece parses a stored piece column. Empty means not placed yet.
func UnmarshalPiece(raw string) (*Piece, error) {
	if raw == "" {
		return nil, nil
	}
	var p Piece
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
