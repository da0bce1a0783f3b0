package ultrasonic

// A Chain fires its sonars one after another in a ring so their pulses never overlap. Each link
// pulses its own trigger interval after the previous link's pulse.
type Chain struct {
	links []*Sonar
}

// NewChain returns a chain over links in firing order.
func NewChain(links ...*Sonar) *Chain {
	return &Chain{links: links}
}

// Links returns the sonars in firing order.
func (c *Chain) Links() []*Sonar {
	return c.links
}

// Start starts the first link. The rest follow from Update.
func (c *Chain) Start() {
	if len(c.links) == 0 {
		return
	}
	c.links[0].Start()
}

// Update polls every link, handing each its successor. The last link hands off to the first, so
// the ring keeps cycling; a single link re-arms itself.
func (c *Chain) Update() {
	for i, s := range c.links {
		s.UpdateChained(c.links[(i+1)%len(c.links)])
	}
}

// Stop stops every link.
func (c *Chain) Stop() {
	for _, s := range c.links {
		s.Stop()
	}
}
