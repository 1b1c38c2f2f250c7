package enums

import "testing"

func TestPickupStatusUpstreamCodes(t *testing.T) {
	cases := map[PickupStatus]int{
		PickupStatusPending:  0,
		PickupStatusDone:     1,
		PickupStatusCanceled: 2,
		PickupStatusDeleted:  2,
	}
	for status, want := range cases {
		got, err := status.UpstreamCode()
		if err != nil {
			t.Fatalf("%s: unexpected error %v", status, err)
		}
		if got != want {
			t.Fatalf("%s: expected %d got %d", status, want, got)
		}
	}
	if _, err := PickupStatus("lost").UpstreamCode(); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestPickupStatusTerminal(t *testing.T) {
	if PickupStatusPending.IsTerminal() {
		t.Fatalf("pending is not terminal")
	}
	for _, s := range []PickupStatus{PickupStatusDone, PickupStatusCanceled, PickupStatusDeleted} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if !PickupStatusDeleted.IsCanceled() {
		t.Fatalf("deleted should count as canceled")
	}
}

func TestParsePickupStatus(t *testing.T) {
	got, err := ParsePickupStatus(" Done ")
	if err != nil || got != PickupStatusDone {
		t.Fatalf("expected done, got %q err=%v", got, err)
	}
	if _, err := ParsePickupStatus("archived"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestParseActorRole(t *testing.T) {
	if r, err := ParseActorRole("admin"); err != nil || r != ActorRoleAdmin {
		t.Fatalf("expected admin role, got %q err=%v", r, err)
	}
	if _, err := ParseActorRole("owner"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}
