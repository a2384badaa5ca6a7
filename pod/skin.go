package pod

import (
	"github.com/google/uuid"

	"github.com/rtcore/nanokernel/log"
	"github.com/rtcore/nanokernel/prioq"
	"github.com/rtcore/nanokernel/rterr"
	"github.com/rtcore/nanokernel/thread"
)

// Skin records one personality layer registered with the pod (spec §6
// register_skin). Threads the skin creates through CreateSkinThread
// carry its magic cookie, which is how UnregisterSkin finds everything
// the skin left behind.
type Skin struct {
	Token uuid.UUID
	Name  string
	Magic uint32
}

// RegisterSkin enrolls a personality layer under its magic cookie,
// returning the registration record the skin presents back at
// unregistration. Registering an already-taken magic is BUSY; zero and
// the pod's own cookie are reserved.
func (p *Pod) RegisterSkin(name string, magic uint32) (*Skin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if magic == 0 || magic == magicCookie {
		return nil, rterr.Wrap(rterr.ErrInval, "skin magic is reserved")
	}
	if _, ok := p.skins[magic]; ok {
		return nil, rterr.Wrap(rterr.ErrBusy, "skin magic already registered")
	}

	s := &Skin{Token: uuid.New(), Name: name, Magic: magic}
	p.skins[magic] = s
	p.log.Info("skin registered",
		log.String("skin", name), log.String("token", s.Token.String()))
	return s, nil
}

// UnregisterSkin removes a skin and deletes every live thread still
// carrying its magic (spec §6 unregister_skin): a skin that unloads
// must not leave orphan threads scheduled against code that is gone.
func (p *Pod) UnregisterSkin(s *Skin) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	registered, ok := p.skins[s.Magic]
	if !ok || registered.Token != s.Token {
		return rterr.Wrap(rterr.ErrInval, "skin not registered")
	}
	delete(p.skins, s.Magic)

	var victims []*thread.TCB
	p.globalq.Each(func(h *prioq.Holder) {
		t := h.Value.(*thread.TCB)
		if t.Magic == s.Magic {
			victims = append(victims, t)
		}
	})
	for _, t := range victims {
		p.deleteThreadLocked(t)
	}

	p.log.Info("skin unregistered",
		log.String("skin", s.Name), log.Int("threads_reclaimed", len(victims)))
	return nil
}

// CreateSkinThread is CreateThread for a registered skin: the new
// thread carries the skin's magic cookie instead of the pod's own
// (spec §3: "magic cookie identifying the owning skin").
func (p *Pod) CreateSkinThread(s *Skin, name string, prio int, stackSize uint32, flags thread.State) (*thread.TCB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	registered, ok := p.skins[s.Magic]
	if !ok || registered.Token != s.Token {
		return nil, rterr.Wrap(rterr.ErrInval, "skin not registered")
	}
	return p.newThreadLocked(name, prio, stackSize, flags, s.Magic)
}
