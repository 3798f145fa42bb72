package aces

import (
	"errors"
	"testing"
)

func TestCheckLoggedIn(t *testing.T) {
	if err := checkLoggedIn("https://de.acespower.com/#/"); err != nil {
		t.Errorf("checkLoggedIn on listing = %v; want nil", err)
	}
	err := checkLoggedIn("https://de.acespower.com/Web/Account/Login.htm?ReturnUrl=%2f")
	if !errors.Is(err, ErrLoginFailed) {
		t.Errorf("checkLoggedIn on login page = %v; want ErrLoginFailed", err)
	}
}

func TestClickActionString(t *testing.T) {
	cases := map[ClickAction]string{
		ClickSingle:    "click",
		ClickParent:    "parent-click",
		ClickDouble:    "double-click",
		ClickAction(9): "ClickAction(9)",
	}
	for a, want := range cases {
		if got := a.String(); got != want {
			t.Errorf("ClickAction(%d).String() = %q; want %q", int(a), got, want)
		}
	}
}

func TestFindChromeBinaryPrefersConfigured(t *testing.T) {
	if got := findChromeBinary("/opt/chrome"); got != "/opt/chrome" {
		t.Errorf("findChromeBinary = %q; want /opt/chrome", got)
	}
}
