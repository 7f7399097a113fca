package delay_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/erichli1/acamafia/internal/domain/delay"
	"github.com/erichli1/acamafia/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type staticSource struct {
	cfg model.DelayConfig
	ok  bool
	err error
}

func (s *staticSource) GetDelayConfig(context.Context) (model.DelayConfig, bool, error) {
	return s.cfg, s.ok, s.err
}

func TestProvider_Next(t *testing.T) {
	ctx := context.Background()

	Convey("Given a configured delay source", t, func() {
		src := &staticSource{cfg: model.DelayConfig{BaselineMS: 5000, RangeMS: 2000}, ok: true}
		p := delay.NewProvider(src, delay.WithRand(rand.New(rand.NewSource(7))))

		Convey("Every draw falls in [baseline, baseline+range)", func() {
			for i := 0; i < 500; i++ {
				d, err := p.Next(ctx)
				So(err, ShouldBeNil)
				So(d, ShouldBeGreaterThanOrEqualTo, 5*time.Second)
				So(d, ShouldBeLessThan, 7*time.Second)
				So(d%time.Millisecond, ShouldEqual, 0)
			}
		})

		Convey("A zero range always yields the baseline", func() {
			src.cfg = model.DelayConfig{BaselineMS: 250}
			d, err := p.Next(ctx)
			So(err, ShouldBeNil)
			So(d, ShouldEqual, 250*time.Millisecond)
		})

		Convey("A changed configuration applies to the next draw", func() {
			src.cfg = model.DelayConfig{BaselineMS: 0, RangeMS: 1}
			d, err := p.Next(ctx)
			So(err, ShouldBeNil)
			So(d, ShouldEqual, 0)
		})

		Convey("Negative bounds are rejected", func() {
			src.cfg = model.DelayConfig{BaselineMS: -1}
			_, err := p.Next(ctx)
			So(errors.Is(err, delay.ErrInvalidConfig), ShouldBeTrue)
		})
	})

	Convey("Given bounds near the largest representable delay", t, func() {
		Convey("A baseline of exactly the maximum is accepted and stays positive", func() {
			p := delay.NewProvider(&staticSource{cfg: model.DelayConfig{BaselineMS: delay.MaxMS}, ok: true})
			d, err := p.Next(ctx)
			So(err, ShouldBeNil)
			So(d, ShouldEqual, time.Duration(delay.MaxMS)*time.Millisecond)
			So(d, ShouldBeGreaterThan, 0)
		})

		Convey("A range filling the headroom never wraps negative", func() {
			p := delay.NewProvider(&staticSource{cfg: model.DelayConfig{BaselineMS: delay.MaxMS - 10, RangeMS: 10}, ok: true},
				delay.WithRand(rand.New(rand.NewSource(1))))
			for i := 0; i < 50; i++ {
				d, err := p.Next(ctx)
				So(err, ShouldBeNil)
				So(d, ShouldBeGreaterThanOrEqualTo, time.Duration(delay.MaxMS-10)*time.Millisecond)
			}
		})

		Convey("A baseline past the maximum is rejected", func() {
			So(errors.Is(delay.Validate(model.DelayConfig{BaselineMS: 1e13}), delay.ErrInvalidConfig), ShouldBeTrue)
			So(errors.Is(delay.Validate(model.DelayConfig{BaselineMS: delay.MaxMS + 1}), delay.ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("A baseline and range whose sum overflows are rejected", func() {
			err := delay.Validate(model.DelayConfig{BaselineMS: delay.MaxMS, RangeMS: 1})
			So(errors.Is(err, delay.ErrInvalidConfig), ShouldBeTrue)
			err = delay.Validate(model.DelayConfig{BaselineMS: 1 << 62, RangeMS: 1 << 62})
			So(errors.Is(err, delay.ErrInvalidConfig), ShouldBeTrue)
		})
	})

	Convey("Given a source with no configuration", t, func() {
		p := delay.NewProvider(&staticSource{})
		_, err := p.Next(ctx)
		So(errors.Is(err, delay.ErrNotConfigured), ShouldBeTrue)
	})

	Convey("Given a failing source", t, func() {
		boom := errors.New("db down")
		p := delay.NewProvider(&staticSource{err: boom})
		_, err := p.Next(ctx)
		So(errors.Is(err, boom), ShouldBeTrue)
	})
}
