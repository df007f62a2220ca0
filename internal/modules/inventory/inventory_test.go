package inventory

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/raysh454/kansa/internal/demoprovider"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/testutil"
)

func TestModules_CoverEveryInventoryDomain(t *testing.T) {
	if !reflect.DeepEqual(NewRegistry().Domains(), model.InventoryDomains) {
		t.Fatalf("registry domains do not match declaration order")
	}
}

func TestModules_CollectDemoTenant(t *testing.T) {
	objects, collections := demoprovider.Fixtures(demoprovider.PostureWeak, time.Now()).JSON()
	client := &testutil.FakeClient{Objects: objects, Collections: collections}

	want := map[model.Domain]int{
		model.DomainUsers:             8,
		model.DomainGroups:            2,
		model.DomainDevices:           3,
		model.DomainApplications:      2,
		model.DomainServicePrincipals: 2,
		model.DomainLicenses:          2,
		model.DomainDomains:           2,
		model.DomainSites:             2,
	}
	for _, m := range Modules() {
		res := m.Collect(context.Background(), client, "tenant", "run-9")
		if !res.Success {
			t.Errorf("%s: %s", m.Domain(), res.Error)
			continue
		}
		if res.ItemCount != want[m.Domain()] || len(res.Items) != res.ItemCount {
			t.Errorf("%s: got %d items, want %d", m.Domain(), res.ItemCount, want[m.Domain()])
		}
		for _, it := range res.Items {
			if it.ExternalID == "" || it.DisplayName == "" || len(it.Payload) == 0 {
				t.Errorf("%s: incomplete item %+v", m.Domain(), it)
			}
			if it.RunID != "run-9" || it.Domain != m.Domain() {
				t.Errorf("%s: item not stamped: %+v", m.Domain(), it)
			}
		}
	}
}

func TestModule_DomainsAreASCII(t *testing.T) {
	client := &testutil.FakeClient{Collections: map[string]string{
		"/domains": `[{"id":"Bücher.example"},{"id":"contoso.example"}]`,
	}}
	m := &Module{Spec: Specs[6]}
	res := m.Collect(context.Background(), client, "t", "r")
	if res.Items[0].DisplayName != "xn--bcher-kva.example" {
		t.Errorf("display name %q not normalized", res.Items[0].DisplayName)
	}
}

func TestModule_SkipsElementsWithoutID(t *testing.T) {
	client := &testutil.FakeClient{Collections: map[string]string{
		"/subscribedSkus": `[{"skuId":"a","skuPartNumber":"E5"},{"skuPartNumber":"orphan"},42]`,
	}}
	m := &Module{Spec: Specs[5]}
	res := m.Collect(context.Background(), client, "t", "r")
	if !res.Success || res.ItemCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected warning for skipped elements, got %v", res.Warnings)
	}
}

func TestModule_FailureIsReported(t *testing.T) {
	client := &testutil.FakeClient{Errors: map[string]error{"/sites": errors.New("throttled")}}
	m := &Module{Spec: Specs[7]}
	res := m.Collect(context.Background(), client, "t", "r")
	if res.Success || res.Error == "" || res.ItemCount != 0 {
		t.Fatalf("expected failed result, got %+v", res)
	}
}

func TestModule_PanicBecomesFailure(t *testing.T) {
	client := &testutil.FakeClient{Collections: map[string]string{
		"/users": `[{"id":"a","displayName":"Ann"}]`,
	}}
	m := &Module{Spec: Spec{
		Domain:    model.DomainUsers,
		Path:      "/users",
		NameKeys:  []string{"displayName"},
		Normalize: func(string) string { panic("bad normalizer") },
	}}
	res := m.Collect(context.Background(), client, "t", "r")
	if res.Success || res.Error != "panic: bad normalizer" {
		t.Fatalf("expected panic reported as failure, got %+v", res)
	}
	if res.ItemCount != 0 {
		t.Errorf("no items expected, got %d", res.ItemCount)
	}
}
