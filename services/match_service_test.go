package services

import (
	"testing"

	"plane-wars-server/models"
	"plane-wars-server/utils"
)

// battleEnv walks two users through create/join/ready so each test
// starts from a freshly spawned match in placement phase.
func battleEnv(t *testing.T) (*testEnv, *models.Match, *models.User, *models.User) {
	t.Helper()
	env := newTestEnv(t)
	p1 := env.newUser(t, "alice")
	p2 := env.newUser(t, "bob")

	detail, err := env.rooms.CreateRoom(p1.ID, CreateRoomRequest{Name: "arena"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := env.rooms.JoinRoom(p2.ID, detail.Room.ID, "", ""); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if _, _, err := env.rooms.SetReady(detail.Room.ID, p1.ID, true); err != nil {
		t.Fatalf("SetReady p1: %v", err)
	}
	after, started, err := env.rooms.SetReady(detail.Room.ID, p2.ID, true)
	if err != nil || !started {
		t.Fatalf("SetReady p2: started=%v err=%v", started, err)
	}
	return env, after.Match, p1, p2
}

func piece1() *models.Piece {
	return &models.Piece{
		Head: models.Coordinate{X: 2, Y: 0},
		Body: []models.Coordinate{{X: 2, Y: 1}, {X: 2, Y: 2}},
		Wing: []models.Coordinate{{X: 1, Y: 1}, {X: 3, Y: 1}},
		Tail: models.Coordinate{X: 2, Y: 3},
	}
}

func piece2() *models.Piece {
	return &models.Piece{
		Head: models.Coordinate{X: 7, Y: 5},
		Body: []models.Coordinate{{X: 7, Y: 6}, {X: 7, Y: 7}},
		Wing: []models.Coordinate{{X: 6, Y: 6}, {X: 8, Y: 6}},
		Tail: models.Coordinate{X: 7, Y: 8},
	}
}

func placeBoth(t *testing.T, env *testEnv, matchID string, p1, p2 *models.User) *models.Match {
	t.Helper()
	if _, err := env.matches.PlacePiece(matchID, p1.ID, piece1()); err != nil {
		t.Fatalf("PlacePiece p1: %v", err)
	}
	match, err := env.matches.PlacePiece(matchID, p2.ID, piece2())
	if err != nil {
		t.Fatalf("PlacePiece p2: %v", err)
	}
	return match
}

func TestPlacementAdvancesToBattle(t *testing.T) {
	env, match, p1, p2 := battleEnv(t)

	bad := piece1()
	bad.Head = models.Coordinate{X: 11, Y: 0}
	if _, err := env.matches.PlacePiece(match.ID, p1.ID, bad); codeOf(err) != utils.CodeInvalidPiecePlacement {
		t.Errorf("out-of-bounds piece: got %v", err)
	}

	after1, err := env.matches.PlacePiece(match.ID, p1.ID, piece1())
	if err != nil {
		t.Fatalf("PlacePiece p1: %v", err)
	}
	if after1.Phase != models.MatchPhasePlacement {
		t.Errorf("phase after one placement = %s, want placement", after1.Phase)
	}

	after2, err := env.matches.PlacePiece(match.ID, p2.ID, piece2())
	if err != nil {
		t.Fatalf("PlacePiece p2: %v", err)
	}
	if after2.Phase != models.MatchPhaseBattle || after2.CurrentPlayer != 1 {
		t.Errorf("both placed should enter battle with player 1, got phase=%s current=%d",
			after2.Phase, after2.CurrentPlayer)
	}

	// phase is monotonic: no more placements once battle started
	if _, err := env.matches.PlacePiece(match.ID, p1.ID, piece1()); codeOf(err) != utils.CodeInvalidPhase {
		t.Errorf("placement during battle: got %v", err)
	}
}

func TestPlacePieceByOutsider(t *testing.T) {
	env, match, _, _ := battleEnv(t)
	outsider := env.newUser(t, "mallory")
	if _, err := env.matches.PlacePiece(match.ID, outsider.ID, piece1()); codeOf(err) != utils.CodeNotInRoom {
		t.Errorf("outsider placement: got %v", err)
	}
}

func TestAttackResolutionTable(t *testing.T) {
	tests := []struct {
		name       string
		coord      models.Coordinate
		wantResult string
		wantFlip   bool
	}{
		{"miss on empty cell", models.Coordinate{X: 0, Y: 9}, models.AttackResultMiss, true},
		{"body hit on wing", models.Coordinate{X: 6, Y: 6}, models.AttackResultBody, true},
		{"body hit on tail", models.Coordinate{X: 7, Y: 8}, models.AttackResultBody, true},
		{"critical on head", models.Coordinate{X: 7, Y: 5}, models.AttackResultCritical, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, match, p1, p2 := battleEnv(t)
			placeBoth(t, env, match.ID, p1, p2)

			outcome, err := env.matches.Attack(match.ID, p1.ID, tt.coord)
			if err != nil {
				t.Fatalf("Attack: %v", err)
			}
			if outcome.Result != tt.wantResult {
				t.Errorf("result = %s, want %s", outcome.Result, tt.wantResult)
			}
			if tt.wantFlip {
				if outcome.CurrentPlayer != 2 || outcome.TurnCount != 1 {
					t.Errorf("non-critical must flip the turn: %+v", outcome)
				}
				if outcome.Phase != models.MatchPhaseBattle {
					t.Errorf("phase = %s, want battle", outcome.Phase)
				}
			} else {
				if outcome.Phase != models.MatchPhaseFinished {
					t.Errorf("critical must finish the match, phase = %s", outcome.Phase)
				}
				if outcome.WinnerID == nil || *outcome.WinnerID != p1.ID {
					t.Errorf("winner = %v, want attacker", outcome.WinnerID)
				}
				if outcome.CurrentPlayer != 1 {
					t.Errorf("winning hit freezes currentPlayer, got %d", outcome.CurrentPlayer)
				}
			}
		})
	}
}

func TestAttackTurnOrderAndDuplicates(t *testing.T) {
	env, match, p1, p2 := battleEnv(t)
	placeBoth(t, env, match.ID, p1, p2)

	// player 2 cannot open
	if _, err := env.matches.Attack(match.ID, p2.ID, models.Coordinate{X: 0, Y: 0}); codeOf(err) != utils.CodeNotYourTurn {
		t.Errorf("out-of-turn attack: got %v", err)
	}

	if _, err := env.matches.Attack(match.ID, p1.ID, models.Coordinate{X: 0, Y: 0}); err != nil {
		t.Fatalf("p1 attack: %v", err)
	}
	if _, err := env.matches.Attack(match.ID, p2.ID, models.Coordinate{X: 0, Y: 0}); err != nil {
		t.Fatalf("p2 attack: %v", err)
	}

	// p1 re-attacks the same cell: rejected and not recorded twice
	if _, err := env.matches.Attack(match.ID, p1.ID, models.Coordinate{X: 0, Y: 0}); codeOf(err) != utils.CodeAlreadyAttacked {
		t.Errorf("duplicate attack: got %v", err)
	}
	var count int64
	env.db.Model(&models.AttackRecord{}).
		Where("match_id = ? AND attacker_id = ? AND x = 0 AND y = 0", match.ID, p1.ID).
		Count(&count)
	if count != 1 {
		t.Errorf("attack history has %d rows for the cell, want 1", count)
	}

	if _, err := env.matches.Attack(match.ID, p1.ID, models.Coordinate{X: -1, Y: 0}); codeOf(err) != utils.CodeValidation {
		t.Errorf("out-of-grid attack: got %v", err)
	}
}

func TestCriticalHitEndsEverything(t *testing.T) {
	env, match, p1, p2 := battleEnv(t)
	placeBoth(t, env, match.ID, p1, p2)

	outcome, err := env.matches.Attack(match.ID, p1.ID, piece2().Head)
	if err != nil {
		t.Fatalf("Attack: %v", err)
	}
	if outcome.Result != models.AttackResultCritical {
		t.Fatalf("result = %s, want hit_critical", outcome.Result)
	}

	var room models.Room
	env.db.First(&room, "id = ?", match.RoomID)
	if room.Status != models.RoomStatusFinished {
		t.Errorf("room should finish with the match, got %s", room.Status)
	}

	var stored models.Match
	env.db.First(&stored, "id = ?", match.ID)
	if stored.FinishedAt == nil || stored.DurationSeconds < 0 {
		t.Errorf("finish metadata missing: %+v", stored)
	}

	// terminal: every further transition is rejected or a no-op
	if _, err := env.matches.Attack(match.ID, p2.ID, models.Coordinate{X: 5, Y: 5}); codeOf(err) != utils.CodeInvalidPhase {
		t.Errorf("attack after finish: got %v", err)
	}
	if _, err := env.matches.PlacePiece(match.ID, p2.ID, piece2()); codeOf(err) != utils.CodeInvalidPhase {
		t.Errorf("placement after finish: got %v", err)
	}
	if err := env.matches.Surrender(match.ID, p2.ID); err != nil {
		t.Errorf("surrender after finish must be a no-op, got %v", err)
	}
	var after models.Match
	env.db.First(&after, "id = ?", match.ID)
	if after.WinnerID == nil || *after.WinnerID != p1.ID {
		t.Errorf("no-op surrender must not rewrite the winner: %+v", after.WinnerID)
	}
}

func TestSurrenderAndForceEnd(t *testing.T) {
	env, match, p1, p2 := battleEnv(t)
	placeBoth(t, env, match.ID, p1, p2)

	if err := env.matches.Surrender(match.ID, p1.ID); err != nil {
		t.Fatalf("Surrender: %v", err)
	}
	var stored models.Match
	env.db.First(&stored, "id = ?", match.ID)
	if stored.Phase != models.MatchPhaseFinished || stored.WinnerID == nil || *stored.WinnerID != p2.ID {
		t.Errorf("surrender should hand the win to the opponent: %+v", stored)
	}

	// idempotent, including ForceEnd on an already finished match
	if err := env.matches.ForceEnd(match.ID, "test"); err != nil {
		t.Errorf("ForceEnd on finished match: %v", err)
	}
	env.db.First(&stored, "id = ?", match.ID)
	if stored.WinnerID == nil || *stored.WinnerID != p2.ID {
		t.Error("ForceEnd no-op must not clear the winner")
	}
}

func TestFullScenario(t *testing.T) {
	// user A creates R1, B joins, both ready, both place, A hits B's head
	env := newTestEnv(t)
	a := env.newUser(t, "A")
	b := env.newUser(t, "B")

	detail, err := env.rooms.CreateRoom(a.ID, CreateRoomRequest{Name: "R1"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if len(detail.Players) != 1 || detail.Room.Status != models.RoomStatusWaiting {
		t.Fatal("fresh room should hold only the waiting host")
	}

	if _, err := env.rooms.JoinRoom(b.ID, detail.Room.ID, "", ""); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	env.rooms.SetReady(detail.Room.ID, a.ID, true)
	after, started, err := env.rooms.SetReady(detail.Room.ID, b.ID, true)
	if err != nil || !started {
		t.Fatalf("ready should spawn the match: %v", err)
	}

	match := placeBoth(t, env, after.Match.ID, a, b)
	if match.Phase != models.MatchPhaseBattle {
		t.Fatalf("phase = %s, want battle", match.Phase)
	}

	outcome, err := env.matches.Attack(match.ID, a.ID, piece2().Head)
	if err != nil {
		t.Fatalf("Attack: %v", err)
	}
	if outcome.Result != models.AttackResultCritical || outcome.WinnerID == nil || *outcome.WinnerID != a.ID {
		t.Errorf("scenario should end with A's critical win: %+v", outcome)
	}
}
