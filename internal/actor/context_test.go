package actor

import (
	"context"
	"testing"
)

func TestWithActorAndFromContext(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{ID: "cust-1", Role: RoleCustomer})

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatalf("expected actor to be present")
	}
	if got.ID != "cust-1" || got.Role != RoleCustomer {
		t.Fatalf("unexpected actor %+v", got)
	}
	if got.Key() != "customer:cust-1" {
		t.Fatalf("unexpected key %s", got.Key())
	}
}

func TestFromContext_EmptyOrInvalid(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected missing actor to return false")
	}

	ctx := context.WithValue(context.Background(), actorKey, "not-an-actor")
	if _, ok := FromContext(ctx); ok {
		t.Fatalf("expected wrong type to return false")
	}

	ctx = WithActor(context.Background(), Actor{ID: "", Role: RoleCustomer})
	if _, ok := FromContext(ctx); ok {
		t.Fatalf("expected empty id to return false")
	}

	ctx = WithActor(context.Background(), Actor{ID: "x", Role: "janitor"})
	if _, ok := FromContext(ctx); ok {
		t.Fatalf("expected unknown role to return false")
	}
}

func TestKeysAndPermissions(t *testing.T) {
	admin := Actor{ID: "a-1", Role: RoleAdmin}
	if admin.Key() != AdminKey {
		t.Fatalf("admins share one channel, got %s", admin.Key())
	}
	if ProviderKey("p-1") != "provider:p-1" || CustomerKey("c-1") != "customer:c-1" {
		t.Fatalf("unexpected channel keys")
	}
	if !CanManageProvider(admin, "p-9") {
		t.Fatalf("admin should manage any provider")
	}
	if !CanManageProvider(Actor{ID: "p-1", Role: RoleProvider}, "p-1") {
		t.Fatalf("provider should manage itself")
	}
	if CanManageProvider(Actor{ID: "p-2", Role: RoleProvider}, "p-1") {
		t.Fatalf("provider should not manage another provider")
	}
	if CanManageProvider(Actor{ID: "p-1", Role: RoleCustomer}, "p-1") {
		t.Fatalf("customer must not manage providers")
	}
}
